package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/OFFIS-RIT/castgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	defaultContextTokens = 4096
	// headroom for the chat template and the structured reply
	replyTokens = 2048
)

// contextSize estimates the num_ctx needed for the given messages. It
// returns 0 when the model default is large enough.
func (c *GraphOllamaClient) contextSize(msgs []api.Message) int {
	size := 0
	for _, m := range msgs {
		size += len(m.Content)
	}
	// a token is never shorter than a byte
	if size+replyTokens <= defaultContextTokens {
		return 0
	}

	tokens := replyTokens
	enc := c.tokenEncoder()
	for _, m := range msgs {
		if enc == nil {
			tokens += len(m.Content)/3 + 1
			continue
		}
		tokens += len(enc.Encode(m.Content, nil, nil))
	}
	if tokens <= defaultContextTokens {
		return 0
	}
	return tokens
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
		Thinking:    c.thinking,
	}, opts...)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   json.RawMessage(formatBytes),
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}
	if numCtx := c.contextSize(msgs); numCtx > 0 {
		req.Options["num_ctx"] = numCtx
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.DoneReason = cr.DoneReason
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return err
	}

	c.metrics.Add(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return ai.UnmarshalFlexible(final.Message.Content, out)
}

// LoadModel preloads a model into memory to reduce latency on subsequent requests.
func (c *GraphOllamaClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model: c.extractionModel,
	}, opts...)

	req := &api.ChatRequest{
		Model: options.Model,
	}

	return c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		return nil
	})
}

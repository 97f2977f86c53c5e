package openai

import (
	"time"

	"github.com/OFFIS-RIT/castgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GraphOpenAIClient talks to an OpenAI compatible chat completion API.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	extractionModel string
	thinking        string

	chatURL string

	metrics ai.MetricsRecorder

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for creating
// a new GraphOpenAIClient.
//
// ExtractionModel is used for discovery and window analysis.
// ChatURL and ChatKey configure the chat/completion API endpoint; an empty
// ChatURL targets api.openai.com.
// RequestTimeout bounds a single request, MaxRetries is the SDK-level retry
// count for transport errors and 429/5xx responses.
type NewGraphOpenAIClientParams struct {
	ExtractionModel string
	Thinking        string

	ChatURL string
	ChatKey string

	RequestTimeout time.Duration
	MaxRetries     int
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey, params.RequestTimeout, params.MaxRetries)

	return &GraphOpenAIClient{
		extractionModel: params.ExtractionModel,
		thinking:        params.Thinking,

		chatURL: params.ChatURL,

		ChatClient: chatClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
	timeout time.Duration,
	maxRetries int,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		options = append(options, option.WithRequestTimeout(timeout))
	}
	if maxRetries > 0 {
		options = append(options, option.WithMaxRetries(maxRetries))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

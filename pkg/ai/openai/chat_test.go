package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/castgraph/pkg/ai"
)

type discovered struct {
	Characters []struct {
		Name     string `json:"name"`
		Mentions int    `json:"mentions"`
	} `json:"characters"`
}

func newTestServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, `{"characters":[{"name":"Juliet","mentions":3}]}`, &seen)
	defer srv.Close()

	client := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		ExtractionModel: "test-model",
		ChatURL:         srv.URL + "/",
		ChatKey:         "test-key",
		MaxRetries:      1,
	})

	var out discovered
	err := client.GenerateCompletionWithFormat(context.Background(), "discover_characters", "test", "prompt", &out, ai.WithSystemPrompts("system"))
	if err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if len(out.Characters) != 1 || out.Characters[0].Name != "Juliet" || out.Characters[0].Mentions != 3 {
		t.Fatalf("GenerateCompletionWithFormat() out = %+v", out)
	}

	if seen["model"] != "test-model" {
		t.Errorf("request model = %#v, want test-model", seen["model"])
	}
	format, _ := seen["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format.type = %#v, want json_schema", format["type"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("len(messages) = %d, want 2 (system + user)", len(msgs))
	}

	metrics := client.GetMetrics()
	if metrics.Requests != 1 || metrics.TotalTokens != 20 {
		t.Errorf("GetMetrics() = %+v, want 1 request and 20 tokens", metrics)
	}
	client.ResetMetrics()
	if client.GetMetrics().Requests != 0 {
		t.Errorf("ResetMetrics() did not clear metrics")
	}
}

func TestGenerateCompletionWithFormat_EmptyContent(t *testing.T) {
	srv := newTestServer(t, "", nil)
	defer srv.Close()

	client := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		ExtractionModel: "test-model",
		ChatURL:         srv.URL + "/",
		ChatKey:         "test-key",
	})

	var out discovered
	err := client.GenerateCompletionWithFormat(context.Background(), "discover_characters", "test", "prompt", &out)
	if !errors.Is(err, ai.ErrEmptyResponse) {
		t.Fatalf("GenerateCompletionWithFormat() error = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateCompletionWithFormat_NoKey(t *testing.T) {
	client := NewGraphOpenAIClient(NewGraphOpenAIClientParams{ExtractionModel: "test-model"})

	var out discovered
	if err := client.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", &out); err == nil {
		t.Fatal("GenerateCompletionWithFormat() without key returned nil error")
	}
}

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/castgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

type discovered struct {
	Characters []struct {
		Name     string `json:"name"`
		Mentions int    `json:"mentions"`
	} `json:"characters"`
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	var seen api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "test-model",
			"message":           map[string]any{"role": "assistant", "content": `{"characters":[{"name":"Tybalt","mentions":5}]}`},
			"done":              true,
			"prompt_eval_count": 30,
			"eval_count":        10,
			"total_duration":    int64(2_000_000_000),
		})
	}))
	defer srv.Close()

	client, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		ExtractionModel: "test-model",
		BaseURL:         srv.URL,
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}

	var out discovered
	err = client.GenerateCompletionWithFormat(context.Background(), "discover_characters", "test", "short prompt", &out, ai.WithSystemPrompts("system"))
	if err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if len(out.Characters) != 1 || out.Characters[0].Name != "Tybalt" || out.Characters[0].Mentions != 5 {
		t.Fatalf("GenerateCompletionWithFormat() out = %+v", out)
	}

	if seen.Model != "test-model" {
		t.Errorf("request model = %q, want test-model", seen.Model)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v, want system + user", seen.Messages)
	}
	if len(seen.Format) == 0 {
		t.Errorf("request format is empty, want json schema")
	}
	if _, ok := seen.Options["num_ctx"]; ok {
		t.Errorf("num_ctx set for a short prompt")
	}

	metrics := client.GetMetrics()
	if metrics.TotalTokens != 40 || metrics.DurationMs != 2000 {
		t.Errorf("GetMetrics() = %+v, want 40 tokens over 2000ms", metrics)
	}
}

func TestGenerateCompletionWithFormat_RejectsNonPointer(t *testing.T) {
	client, err := NewGraphOllamaClient(NewGraphOllamaClientParams{ExtractionModel: "test-model"})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	if err := client.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", discovered{}); err == nil {
		t.Fatal("GenerateCompletionWithFormat() with non-pointer returned nil error")
	}
}

package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/castgraph/pkg/ai"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
type GraphOllamaClient struct {
	extractionModel string
	thinking        string

	reqLock *semaphore.Weighted

	encOnce sync.Once
	encoder *tiktoken.Tiktoken

	metrics ai.MetricsRecorder

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	ExtractionModel string
	Thinking        string

	BaseURL string
	ApiKey  string

	// MaxConcurrentRequests caps in-flight chat requests. Defaults to 4.
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	u, err := url.Parse("http://127.0.0.1:11434")
	if err != nil {
		return nil, err
	}
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	maxRequests := params.MaxConcurrentRequests
	if maxRequests <= 0 {
		maxRequests = 4
	}

	return &GraphOllamaClient{
		extractionModel: params.ExtractionModel,
		thinking:        params.Thinking,

		reqLock: semaphore.NewWeighted(maxRequests),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// tokenEncoder loads the BPE ranks on first use. It returns nil when they
// cannot be loaded.
func (c *GraphOllamaClient) tokenEncoder() *tiktoken.Tiktoken {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("o200k_base")
		if err != nil {
			logger.Warn("[Ollama] Token encoder unavailable, estimating from length", "err", err)
			return
		}
		c.encoder = enc
	})
	return c.encoder
}

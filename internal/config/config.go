// Package config reads the process configuration from the environment and
// builds the collaborators shared by the server and the worker.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/storage"
	"github.com/OFFIS-RIT/castgraph/internal/util"
	"github.com/OFFIS-RIT/castgraph/pkg/ai"
	oai "github.com/OFFIS-RIT/castgraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/castgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/castgraph/pkg/graph"
	"github.com/OFFIS-RIT/castgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/castgraph/pkg/loader"
	fileloader "github.com/OFFIS-RIT/castgraph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/castgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/castgraph/pkg/loader/web"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
)

// AISettings select and configure the oracle backend.
type AISettings struct {
	Adapter          string
	ChatURL          string
	ChatKey          string
	ExtractModel     string
	Thinking         string
	ParallelRequests int

	RequestsPerMinute int
	MaxRetries        int
	Timeout           time.Duration
}

// Config is the environment configuration of a castgraph process.
type Config struct {
	Port  string
	Debug bool

	Graph graph.NewGraphClientParams
	AI    AISettings

	DocumentURLTemplate string
	DocumentDir         string
	S3                  storage.S3Settings

	DatabaseURL string
	LeaseTTL    time.Duration

	// QueueEnabled is set when RABBITMQ_HOST is configured.
	QueueEnabled bool

	KeepAlive time.Duration
}

// Load reads the configuration from the environment. Call util.LoadEnv
// first to pick up a .env file.
func Load() Config {
	return Config{
		Port:  util.GetEnvString("PORT", "8080"),
		Debug: util.GetEnvBool("DEBUG", false),

		Graph: graph.NewGraphClientParams{
			WindowSize:    util.GetEnvInt("WINDOW_SIZE", graph.DefaultWindowSize),
			WindowOverlap: util.GetEnvInt("WINDOW_OVERLAP", graph.DefaultWindowOverlap),
			SampleCount:   util.GetEnvInt("SAMPLE_COUNT", graph.DefaultSampleCount),
			SampleSize:    util.GetEnvInt("SAMPLE_SIZE", graph.DefaultSampleSize),
			BatchSize:     util.GetEnvInt("BATCH_SIZE", graph.DefaultBatchSize),
			BatchDelay:    util.GetEnvDuration("BATCH_DELAY", time.Second),
			MinMentions:   util.GetEnvInt("MIN_MENTIONS", graph.DefaultMinMentions),
		},

		AI: AISettings{
			Adapter:          util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:          util.GetEnv("AI_CHAT_URL"),
			ChatKey:          util.GetEnv("AI_CHAT_KEY"),
			ExtractModel:     util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			Thinking:         util.GetEnv("AI_CHAT_THINKING"),
			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 15),

			RequestsPerMinute: util.GetEnvInt("AI_REQUESTS_PER_MINUTE", 0),
			MaxRetries:        util.GetEnvInt("ORACLE_MAX_RETRIES", 2),
			Timeout:           util.GetEnvDuration("ORACLE_TIMEOUT", 2*time.Minute),
		},

		DocumentURLTemplate: util.GetEnvString("DOCUMENT_URL_TEMPLATE", web.DefaultURLTemplate),
		DocumentDir:         util.GetEnvString("DOCUMENT_DIR", "."),
		S3:                  storage.S3SettingsFromEnv(),

		DatabaseURL: util.GetEnv("DATABASE_URL"),
		LeaseTTL:    util.GetEnvDuration("LEASE_TTL", 5*time.Minute),

		QueueEnabled: util.GetEnv("RABBITMQ_HOST") != "",

		KeepAlive: util.GetEnvDuration("SSE_KEEPALIVE", 15*time.Second),
	}
}

// NewAIClient creates the oracle backend selected by AI_ADAPTER.
func (c Config) NewAIClient() (ai.GraphAIClient, error) {
	switch c.AI.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ExtractionModel: c.AI.ExtractModel,
			Thinking:        c.AI.Thinking,

			BaseURL: c.AI.ChatURL,
			ApiKey:  c.AI.ChatKey,

			MaxConcurrentRequests: int64(c.AI.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	case "openai", "":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ExtractionModel: c.AI.ExtractModel,
			Thinking:        c.AI.Thinking,

			ChatURL: c.AI.ChatURL,
			ChatKey: c.AI.ChatKey,

			RequestTimeout: c.AI.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", c.AI.Adapter)
	}
}

// NewGraphClient creates the analysis client from the segmentation and
// batching settings.
func (c Config) NewGraphClient() (*graph.GraphClient, error) {
	return graph.NewGraphClient(c.Graph)
}

// NewOracle wraps client with the configured pacing and retry policy.
func (c Config) NewOracle(client ai.GraphAIClient) *graph.AIOracle {
	return graph.NewAIOracle(graph.NewAIOracleParams{
		Client:            client,
		RequestsPerMinute: c.AI.RequestsPerMinute,
		MaxRetries:        c.AI.MaxRetries,
		Timeout:           c.AI.Timeout,
	})
}

// NewFetcher builds the document router. Bare ids and http(s) URLs go to
// the web fetcher, file:// ids are read below DocumentDir and s3:// ids
// use the S3 bucket when AWS_BUCKET is set.
func (c Config) NewFetcher(ctx context.Context) (loader.Fetcher, error) {
	webFetcher := web.NewWebFetcher(web.NewWebFetcherParams{
		URLTemplate: c.DocumentURLTemplate,
	})
	router := loader.NewRouter(webFetcher).
		Handle(webFetcher, "http", "https").
		Handle(fileloader.NewFileFetcher(c.DocumentDir), "file")

	if c.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, c.S3)
		if err != nil {
			return nil, err
		}
		router.Handle(s3loader.NewS3FetcherWithClient(c.S3.Bucket, client), "s3")
		logger.Info("[Config] S3 document source enabled", "bucket", c.S3.Bucket)
	}

	return router, nil
}

// LeaseOptions are the run lease settings.
func (c Config) LeaseOptions() leaselock.Options {
	return leaselock.Options{
		TTL: c.LeaseTTL,
	}
}

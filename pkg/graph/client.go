package graph

import (
	"fmt"
	"time"
)

const (
	DefaultWindowSize    = 8000
	DefaultWindowOverlap = 500
	DefaultSampleCount   = 5
	DefaultSampleSize    = 10000
	DefaultBatchSize     = 5
	DefaultMinMentions   = 3
)

// GraphClient runs character-graph analyses. It holds the segmentation,
// sampling and batching parameters shared by every run.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	windowSize    int
	windowOverlap int
	sampleCount   int
	sampleSize    int
	batchSize     int
	batchDelay    time.Duration
	minMentions   int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient. Zero values select the package defaults, except
// BatchDelay where zero means no pause between batches. WindowOverlap only
// falls back to its default when WindowSize is unset too.
//
// WindowSize and WindowOverlap are measured in characters.
// SampleCount and SampleSize control registry discovery.
// BatchSize is the number of windows analysed concurrently.
// MinMentions is the registry threshold for keeping a character.
type NewGraphClientParams struct {
	WindowSize    int
	WindowOverlap int
	SampleCount   int
	SampleSize    int
	BatchSize     int
	BatchDelay    time.Duration
	MinMentions   int
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		WindowSize:    8000,
//		WindowOverlap: 500,
//		BatchSize:     5,
//		BatchDelay:    time.Second,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	g := &GraphClient{
		windowSize:    orDefault(params.WindowSize, DefaultWindowSize),
		windowOverlap: params.WindowOverlap,
		sampleCount:   orDefault(params.SampleCount, DefaultSampleCount),
		sampleSize:    orDefault(params.SampleSize, DefaultSampleSize),
		batchSize:     orDefault(params.BatchSize, DefaultBatchSize),
		batchDelay:    params.BatchDelay,
		minMentions:   orDefault(params.MinMentions, DefaultMinMentions),
	}
	if params.WindowOverlap == 0 && params.WindowSize == 0 {
		g.windowOverlap = DefaultWindowOverlap
	}
	if g.batchDelay < 0 {
		g.batchDelay = 0
	}

	if g.windowOverlap < 0 || g.windowOverlap >= g.windowSize {
		return nil, fmt.Errorf("window overlap %d must be in [0, %d)", g.windowOverlap, g.windowSize)
	}
	if g.sampleCount < 2 {
		g.sampleCount = 2
	}

	return g, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

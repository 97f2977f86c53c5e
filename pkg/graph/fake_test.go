package graph

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
)

type fakeOracle struct {
	mu            sync.Mutex
	discover      func(ctx context.Context, text string) ([]common.CharacterCandidate, error)
	analyze       func(ctx context.Context, text string, registry *common.CharacterRegistry) (common.AnalysisResult, error)
	discoverCalls int
	analyzeCalls  int
	analyzed      []string
}

func (f *fakeOracle) Discover(ctx context.Context, text string) ([]common.CharacterCandidate, error) {
	f.mu.Lock()
	f.discoverCalls++
	f.mu.Unlock()
	if f.discover == nil {
		return nil, nil
	}
	return f.discover(ctx, text)
}

func (f *fakeOracle) Analyze(ctx context.Context, text string, registry *common.CharacterRegistry) (common.AnalysisResult, error) {
	f.mu.Lock()
	f.analyzeCalls++
	f.analyzed = append(f.analyzed, text)
	f.mu.Unlock()
	if f.analyze == nil {
		return common.AnalysisResult{}, nil
	}
	return f.analyze(ctx, text, registry)
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []common.StreamingUpdate
	keys    []string
}

func (r *recordingReporter) Publish(_ context.Context, sessionKey string, update common.StreamingUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, sessionKey)
	r.updates = append(r.updates, update)
	return nil
}

func (r *recordingReporter) types() []common.UpdateType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.UpdateType, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Type
	}
	return out
}

type fetcherFunc func(ctx context.Context, documentID string) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, documentID string) (string, error) {
	return f(ctx, documentID)
}

func newTestClient(t interface{ Fatalf(string, ...any) }, params NewGraphClientParams) *GraphClient {
	g, err := NewGraphClient(params)
	if err != nil {
		t.Fatalf("NewGraphClient() error = %v", err)
	}
	return g
}

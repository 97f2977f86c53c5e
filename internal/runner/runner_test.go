package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/graph"
	"github.com/OFFIS-RIT/castgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/castgraph/pkg/store"
)

type memResults struct {
	mu   sync.Mutex
	runs map[string]store.Run
}

func newMemResults() *memResults {
	return &memResults{runs: make(map[string]store.Run)}
}

func (m *memResults) StartRun(_ context.Context, job common.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[job.SessionKey] = store.Run{SessionKey: job.SessionKey, DocumentID: job.DocumentID, Status: store.StatusRunning}
	return nil
}

func (m *memResults) CompleteRun(_ context.Context, key string, result common.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[key]
	run.Status = store.StatusComplete
	run.Result = &result
	m.runs[key] = run
	return nil
}

func (m *memResults) FailRun(_ context.Context, key, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[key]
	run.Status = store.StatusFailed
	run.Error = reason
	m.runs[key] = run
	return nil
}

func (m *memResults) GetRun(_ context.Context, key string) (store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[key]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

type stubOracle struct{}

func (stubOracle) Discover(context.Context, string) ([]common.CharacterCandidate, error) {
	return []common.CharacterCandidate{{Name: "Heathcliff", Mentions: 5}}, nil
}

func (stubOracle) Analyze(context.Context, string, *common.CharacterRegistry) (common.AnalysisResult, error) {
	return common.AnalysisResult{Characters: []common.Character{{Name: "Heathcliff", Mentions: 2}}}, nil
}

type textFetcher struct {
	text string
	err  error
}

func (f textFetcher) Fetch(context.Context, string) (string, error) {
	return f.text, f.err
}

type busyLocker struct{}

func (busyLocker) Acquire(_ context.Context, sessionKey string, _ leaselock.Options) (*leaselock.Lease, error) {
	return nil, &leaselock.BusyError{SessionKey: sessionKey, Holder: "worker-2"}
}

func newGraph(t *testing.T) *graph.GraphClient {
	g, err := graph.NewGraphClient(graph.NewGraphClientParams{WindowSize: 50, WindowOverlap: 5})
	if err != nil {
		t.Fatalf("NewGraphClient() error = %v", err)
	}
	return g
}

func TestRunnerSavesResult(t *testing.T) {
	results := newMemResults()
	r := NewRunner(NewRunnerParams{
		Graph:   newGraph(t),
		Fetcher: textFetcher{text: "Heathcliff stood on the moor. " + strings.Repeat("Wind. ", 20)},
		Oracle:  stubOracle{},
		Results: results,
	})

	job := common.AnalysisJob{SessionKey: "wh", DocumentID: "768"}
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run, err := results.GetRun(context.Background(), "wh")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.StatusComplete || run.Result == nil || run.Result.Characters[0].Name != "Heathcliff" {
		t.Errorf("run = %+v", run)
	}
}

func TestRunnerRecordsFailure(t *testing.T) {
	results := newMemResults()
	r := NewRunner(NewRunnerParams{
		Graph:   newGraph(t),
		Fetcher: textFetcher{err: errors.New("connection reset")},
		Oracle:  stubOracle{},
		Results: results,
	})

	err := r.Run(context.Background(), common.AnalysisJob{SessionKey: "wh", DocumentID: "768"})
	if err == nil {
		t.Fatal("Run() error = nil, want fetch error")
	}

	run, _ := results.GetRun(context.Background(), "wh")
	if run.Status != store.StatusFailed || !strings.HasPrefix(run.Error, "Failed to fetch document") {
		t.Errorf("run = %+v", run)
	}
}

func TestRunnerSkipsBusySession(t *testing.T) {
	results := newMemResults()
	r := NewRunner(NewRunnerParams{
		Graph:   newGraph(t),
		Fetcher: textFetcher{text: "text"},
		Oracle:  stubOracle{},
		Results: results,
		Locks:   busyLocker{},
	})

	if err := r.Run(context.Background(), common.AnalysisJob{SessionKey: "wh"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := results.GetRun(context.Background(), "wh"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("busy session was started: %v", err)
	}
}

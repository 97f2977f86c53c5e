package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/loader"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
)

// Reporter delivers progress updates to the subscribers of a session.
// Delivery is best-effort; a failed publish never fails a run.
type Reporter interface {
	Publish(ctx context.Context, sessionKey string, update common.StreamingUpdate) error
}

type nopReporter struct{}

func (nopReporter) Publish(context.Context, string, common.StreamingUpdate) error { return nil }

var transitions = map[common.Phase][]common.Phase{
	common.PhaseFetching:    {common.PhaseDiscovering, common.PhaseErrored},
	common.PhaseDiscovering: {common.PhaseAnalyzing, common.PhaseErrored},
	common.PhaseAnalyzing:   {common.PhaseComplete, common.PhaseErrored},
}

// analysisRun is the state of a single RunAnalysis call.
type analysisRun struct {
	client   *GraphClient
	job      common.AnalysisJob
	fetcher  loader.Fetcher
	oracle   Oracle
	reporter Reporter

	phase    common.Phase
	registry *common.CharacterRegistry
	results  []common.AnalysisResult
}

// RunAnalysis fetches the job's document, builds the character registry and
// analyses every window batch by batch, reporting progress for the job's
// session after each step. It returns the final merged result.
//
// Any failure ends the run: a single error update is published and the
// error is returned. Fetch failures are returned as *loader.FetchError and
// everything else as *RunError.
func (g *GraphClient) RunAnalysis(
	ctx context.Context,
	job common.AnalysisJob,
	fetcher loader.Fetcher,
	oracle Oracle,
	reporter Reporter,
) (*common.AnalysisResult, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	r := &analysisRun{
		client:   g,
		job:      job,
		fetcher:  fetcher,
		oracle:   oracle,
		reporter: reporter,
		phase:    common.PhaseFetching,
	}

	start := time.Now()
	logger.Info("[Analysis] Starting run", "session", job.SessionKey, "document", job.DocumentID)

	result, err := r.run(ctx)
	if err != nil {
		r.fail(ctx, err)
		return nil, err
	}

	logger.Info(
		"[Analysis] Run complete",
		"session", job.SessionKey,
		"characters", len(result.Characters),
		"interactions", len(result.Interactions),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

func (r *analysisRun) run(ctx context.Context) (*common.AnalysisResult, error) {
	g := r.client

	r.publish(ctx, progressUpdate(common.PhaseFetching, "Fetching document", nil, nil))
	text, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	windows, err := Segment(text, g.windowSize, g.windowOverlap)
	if err != nil {
		return nil, &RunError{Phase: "segmenting", Err: err}
	}
	windowCount := len(windows)

	if err := r.transition(common.PhaseDiscovering); err != nil {
		return nil, err
	}
	r.publish(ctx, progressUpdate(common.PhaseDiscovering, "Discovering characters", nil, &windowCount))

	registry, err := g.BuildRegistry(ctx, r.oracle, Sample(text, g.sampleCount, g.sampleSize))
	if err != nil {
		return nil, &RunError{Phase: "discovering", Err: err}
	}
	r.registry = registry
	characterCount := registry.Len()

	if err := r.transition(common.PhaseAnalyzing); err != nil {
		return nil, err
	}
	r.publish(ctx, progressUpdate(
		common.PhaseAnalyzing,
		fmt.Sprintf("Found %d characters", characterCount),
		&characterCount,
		&windowCount,
	))

	scheduler := NewBatchScheduler(r.oracle, g.batchSize, g.batchDelay)
	if err := scheduler.Run(ctx, windows, registry, r); err != nil {
		return nil, &RunError{Phase: "analyzing", Err: err}
	}

	final := Merge(r.results, registry)
	if err := r.transition(common.PhaseComplete); err != nil {
		return nil, err
	}
	r.publish(ctx, common.StreamingUpdate{
		Type:    common.UpdateAnalysisComplete,
		Data:    final,
		Message: fmt.Sprintf("Analysis complete: %d characters, %d interactions", len(final.Characters), len(final.Interactions)),
	})

	return &final, nil
}

func (r *analysisRun) fetch(ctx context.Context) (string, error) {
	text, err := r.fetcher.Fetch(ctx, r.job.DocumentID)
	if err != nil {
		var fetchErr *loader.FetchError
		if errors.As(err, &fetchErr) {
			return "", err
		}
		return "", &loader.FetchError{DocumentID: r.job.DocumentID, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &loader.FetchError{DocumentID: r.job.DocumentID, Err: ErrEmptyDocument}
	}
	return text, nil
}

// BatchStarted implements BatchHandler.
func (r *analysisRun) BatchStarted(ctx context.Context, index, total int) {
	logger.Info("[Analysis] Dispatching batch", "session", r.job.SessionKey, "batch", index+1, "total", total)

	update := progressUpdate(common.PhaseAnalyzing, fmt.Sprintf("Analyzing batch %d of %d", index+1, total), nil, nil)
	update.BatchIndex = &index
	update.TotalBatches = &total
	r.publish(ctx, update)
}

// BatchCompleted implements BatchHandler.
func (r *analysisRun) BatchCompleted(ctx context.Context, index, total int, results []common.AnalysisResult) error {
	r.results = append(r.results, results...)
	merged, stats := MergeWithStats(r.results, r.registry)

	logger.Debug(
		"[Analysis] Batch merged",
		"session", r.job.SessionKey,
		"batch", index+1,
		"characters", len(merged.Characters),
		"interactions", len(merged.Interactions),
		"dropped_interactions", stats.DroppedInteractions,
		"dropped_characters", stats.DroppedCharacters,
	)

	r.publish(ctx, common.StreamingUpdate{
		Type:         common.UpdateBatchComplete,
		BatchIndex:   &index,
		TotalBatches: &total,
		Data: common.BatchSnapshot{
			Characters:          merged.Characters,
			Interactions:        merged.Interactions,
			IsComplete:          index == total-1,
			DroppedInteractions: stats.DroppedInteractions,
		},
		Message: fmt.Sprintf("Batch %d of %d complete", index+1, total),
	})
	return nil
}

func (r *analysisRun) transition(to common.Phase) error {
	for _, allowed := range transitions[r.phase] {
		if allowed == to {
			logger.Debug("[Analysis] Phase change", "session", r.job.SessionKey, "from", r.phase, "to", to)
			r.phase = to
			return nil
		}
	}
	return &RunError{Phase: string(r.phase), Err: fmt.Errorf("invalid transition to %s", to)}
}

// fail moves the run to the errored phase and reports err once.
func (r *analysisRun) fail(ctx context.Context, err error) {
	if r.phase == common.PhaseErrored || r.phase == common.PhaseComplete {
		return
	}
	failedIn := r.phase
	r.phase = common.PhaseErrored

	logger.Error("[Analysis] Run failed", "session", r.job.SessionKey, "phase", failedIn, "err", err)

	r.publish(context.WithoutCancel(ctx), common.StreamingUpdate{
		Type:    common.UpdateError,
		Data:    common.ProgressData{Phase: failedIn},
		Message: FailureMessage(err),
	})
}

// FailureMessage is the human-readable message reported for a failed run.
func FailureMessage(err error) string {
	var fetchErr *loader.FetchError
	if errors.As(err, &fetchErr) {
		return "Failed to fetch document: " + fetchErr.Error()
	}
	return err.Error()
}

func (r *analysisRun) publish(ctx context.Context, update common.StreamingUpdate) {
	if err := r.reporter.Publish(ctx, r.job.SessionKey, update); err != nil {
		logger.Warn("[Analysis] Failed to publish update", "session", r.job.SessionKey, "type", update.Type, "err", err)
	}
}

func progressUpdate(phase common.Phase, message string, characterCount, windowCount *int) common.StreamingUpdate {
	return common.StreamingUpdate{
		Type: common.UpdateProgress,
		Data: common.ProgressData{
			Phase:          phase,
			CharacterCount: characterCount,
			WindowCount:    windowCount,
		},
		Message: message,
	}
}

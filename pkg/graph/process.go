package graph

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/util"
	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// BatchHandler observes batch progress of a BatchScheduler run.
type BatchHandler interface {
	// BatchStarted is called before the batch's oracle calls are dispatched.
	BatchStarted(ctx context.Context, index, total int)
	// BatchCompleted is called once every window of the batch has resolved,
	// with one result per window in window order. A non-nil error stops
	// the run.
	BatchCompleted(ctx context.Context, index, total int, results []common.AnalysisResult) error
}

// BatchScheduler runs window analysis in fixed-size batches. Batches run
// one after another; the windows of a batch are analysed concurrently.
type BatchScheduler struct {
	oracle    Oracle
	batchSize int
	delay     time.Duration
}

// NewBatchScheduler creates a scheduler analysing batchSize windows at a
// time and pausing delay between batches.
func NewBatchScheduler(oracle Oracle, batchSize int, delay time.Duration) *BatchScheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchScheduler{
		oracle:    oracle,
		batchSize: batchSize,
		delay:     delay,
	}
}

// TotalBatches returns the number of batches Run will produce for n windows.
func (s *BatchScheduler) TotalBatches(n int) int {
	return (n + s.batchSize - 1) / s.batchSize
}

// Run analyses all windows against registry and reports each batch to h.
// A window whose oracle call fails yields an empty result. Run returns an
// error only when ctx is done or h rejects a batch.
func (s *BatchScheduler) Run(
	ctx context.Context,
	windows []common.Window,
	registry *common.CharacterRegistry,
	h BatchHandler,
) error {
	batches := partitionBatches(windows, s.batchSize)
	total := len(batches)

	for i, batch := range batches {
		if i > 0 && s.delay > 0 {
			if err := util.Sleep(ctx, s.delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		h.BatchStarted(ctx, i, total)
		results := s.analyzeBatch(ctx, batch, registry)
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := h.BatchCompleted(ctx, i, total, results); err != nil {
			return err
		}
	}

	return nil
}

func (s *BatchScheduler) analyzeBatch(
	ctx context.Context,
	batch []common.Window,
	registry *common.CharacterRegistry,
) []common.AnalysisResult {
	results := make([]common.AnalysisResult, len(batch))

	eg, gCtx := errgroup.WithContext(ctx)
	for i, window := range batch {
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
			}

			res, err := s.oracle.Analyze(gCtx, window.Text, registry)
			if err != nil {
				logger.Warn("[Batch] Window analysis failed", "window", window.Index, "err", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

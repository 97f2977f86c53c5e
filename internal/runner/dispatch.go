package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/OFFIS-RIT/castgraph/internal/queue"
	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
)

// ErrShuttingDown is returned by a LocalDispatcher after Wait was called.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Dispatcher starts analysis jobs without waiting for them to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job common.AnalysisJob) error
}

// LocalDispatcher runs jobs in goroutines of the current process. Runs are
// bound to the dispatcher's base context, not to the request that started
// them.
type LocalDispatcher struct {
	base   context.Context
	runner queue.JobRunner

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(base context.Context, runner queue.JobRunner) *LocalDispatcher {
	return &LocalDispatcher{base: base, runner: runner}
}

// Dispatch implements Dispatcher.
func (d *LocalDispatcher) Dispatch(_ context.Context, job common.AnalysisJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShuttingDown
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(d.base, job); err != nil {
			logger.Debug("[Runner] Local run ended with error", "session", job.SessionKey, "err", err)
		}
	}()
	return nil
}

// Wait stops accepting jobs and blocks until running jobs return or ctx is
// done.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDispatcher hands jobs to the analysis queue for a worker to run.
type QueueDispatcher struct {
	ch queue.Publisher
}

func NewQueueDispatcher(ch queue.Publisher) *QueueDispatcher {
	return &QueueDispatcher{ch: ch}
}

// Dispatch implements Dispatcher.
func (d *QueueDispatcher) Dispatch(ctx context.Context, job common.AnalysisJob) error {
	if err := queue.EnqueueAnalysis(ctx, d.ch, job); err != nil {
		return err
	}
	logger.Info("[Runner] Enqueued analysis", "session", job.SessionKey, "document", job.DocumentID)
	return nil
}

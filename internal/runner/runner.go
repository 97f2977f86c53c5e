package runner

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/graph"
	"github.com/OFFIS-RIT/castgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/castgraph/pkg/loader"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
	"github.com/OFFIS-RIT/castgraph/pkg/store"
)

// Locker hands out session leases. *leaselock.Client implements it.
type Locker interface {
	Acquire(ctx context.Context, sessionKey string, opts leaselock.Options) (*leaselock.Lease, error)
}

// Runner executes analysis jobs with the process-wide collaborators. Run
// persistence and locking are optional.
type Runner struct {
	graph     *graph.GraphClient
	fetcher   loader.Fetcher
	oracle    graph.Oracle
	reporter  graph.Reporter
	results   store.ResultStorage
	locks     Locker
	leaseOpts leaselock.Options
}

// NewRunnerParams wires a Runner. Results and Locks may be nil.
type NewRunnerParams struct {
	Graph     *graph.GraphClient
	Fetcher   loader.Fetcher
	Oracle    graph.Oracle
	Reporter  graph.Reporter
	Results   store.ResultStorage
	Locks     Locker
	LeaseOpts leaselock.Options
}

func NewRunner(params NewRunnerParams) *Runner {
	return &Runner{
		graph:     params.Graph,
		fetcher:   params.Fetcher,
		oracle:    params.Oracle,
		reporter:  params.Reporter,
		results:   params.Results,
		locks:     params.Locks,
		leaseOpts: params.LeaseOpts,
	}
}

// Run analyses one job and returns the run's error, if any. A job whose
// session is already being analysed elsewhere is skipped.
func (r *Runner) Run(ctx context.Context, job common.AnalysisJob) error {
	if r.locks != nil {
		lease, err := r.locks.Acquire(ctx, job.SessionKey, r.leaseOpts)
		if err != nil {
			var busy *leaselock.BusyError
			if errors.As(err, &busy) {
				logger.Warn("[Runner] Session already running, skipping", "session", job.SessionKey, "holder", busy.Holder)
				return nil
			}
			return err
		}
		defer func() {
			_ = lease.Release(context.WithoutCancel(ctx))
		}()
		ctx = lease.Context
	}

	if r.results != nil {
		if err := r.results.StartRun(ctx, job); err != nil {
			logger.Warn("[Runner] Failed to record run start", "session", job.SessionKey, "err", err)
		}
	}

	result, err := r.graph.RunAnalysis(ctx, job, r.fetcher, r.oracle, r.reporter)
	if r.results == nil {
		return err
	}

	saveCtx := context.WithoutCancel(ctx)
	if err != nil {
		if saveErr := r.results.FailRun(saveCtx, job.SessionKey, graph.FailureMessage(err)); saveErr != nil {
			logger.Warn("[Runner] Failed to record run failure", "session", job.SessionKey, "err", saveErr)
		}
		return err
	}
	if saveErr := r.results.CompleteRun(saveCtx, job.SessionKey, *result); saveErr != nil {
		logger.Warn("[Runner] Failed to save result", "session", job.SessionKey, "err", saveErr)
	}
	return nil
}

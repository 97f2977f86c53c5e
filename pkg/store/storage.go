package store

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
)

// ErrNotFound is returned when no run is stored for a session key.
var ErrNotFound = errors.New("analysis run not found")

// RunStatus is the persisted state of an analysis run.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one analysis run.
type Run struct {
	SessionKey string                 `json:"sessionKey"`
	DocumentID string                 `json:"documentId"`
	Status     RunStatus              `json:"status"`
	Result     *common.AnalysisResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// ResultStorage persists analysis runs keyed by session key.
type ResultStorage interface {
	// StartRun records a running run, resetting any previous run stored
	// under the same session key.
	StartRun(ctx context.Context, job common.AnalysisJob) error
	// CompleteRun stores the final result of a run.
	CompleteRun(ctx context.Context, sessionKey string, result common.AnalysisResult) error
	// FailRun marks a run as failed with a human-readable reason.
	FailRun(ctx context.Context, sessionKey string, reason string) error
	// GetRun returns the run for sessionKey or ErrNotFound.
	GetRun(ctx context.Context, sessionKey string) (Run, error)
}

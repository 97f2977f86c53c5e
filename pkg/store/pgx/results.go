package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// ResultDBStorage implements store.ResultStorage on PostgreSQL. Results are
// kept as jsonb in the analysis_runs table.
type ResultDBStorage struct {
	conn pgxIConn
}

// NewResultDBStorageWithConnection creates a ResultDBStorage on an existing
// connection or pool.
func NewResultDBStorageWithConnection(conn pgxIConn) *ResultDBStorage {
	return &ResultDBStorage{conn: conn}
}

// StartRun implements store.ResultStorage.
func (s *ResultDBStorage) StartRun(ctx context.Context, job common.AnalysisJob) error {
	_, err := s.conn.Exec(ctx, startRunSQL, job.SessionKey, job.DocumentID, string(store.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun implements store.ResultStorage.
func (s *ResultDBStorage) CompleteRun(ctx context.Context, sessionKey string, result common.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	tag, err := s.conn.Exec(ctx, finishRunSQL, sessionKey, string(store.StatusComplete), payload, nil)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FailRun implements store.ResultStorage.
func (s *ResultDBStorage) FailRun(ctx context.Context, sessionKey string, reason string) error {
	tag, err := s.conn.Exec(ctx, finishRunSQL, sessionKey, string(store.StatusFailed), nil, reason)
	if err != nil {
		return fmt.Errorf("failed to mark run as failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun implements store.ResultStorage.
func (s *ResultDBStorage) GetRun(ctx context.Context, sessionKey string) (store.Run, error) {
	var (
		run     store.Run
		status  string
		payload []byte
		reason  *string
	)
	err := s.conn.QueryRow(ctx, getRunSQL, sessionKey).Scan(
		&run.SessionKey,
		&run.DocumentID,
		&status,
		&payload,
		&reason,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = store.RunStatus(status)
	if reason != nil {
		run.Error = *reason
	}
	if len(payload) > 0 {
		var result common.AnalysisResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return store.Run{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		run.Result = &result
	}
	return run, nil
}

const startRunSQL = `
INSERT INTO analysis_runs (session_key, document_id, status, result, error, created_at, updated_at)
VALUES ($1, $2, $3, NULL, NULL, now(), now())
ON CONFLICT (session_key) DO UPDATE
SET document_id = EXCLUDED.document_id,
    status      = EXCLUDED.status,
    result      = NULL,
    error       = NULL,
    updated_at  = now();
`

const finishRunSQL = `
UPDATE analysis_runs
SET status     = $2,
    result     = $3::jsonb,
    error      = $4,
    updated_at = now()
WHERE session_key = $1;
`

const getRunSQL = `
SELECT session_key, document_id, status, result, error, created_at, updated_at
FROM analysis_runs
WHERE session_key = $1;
`

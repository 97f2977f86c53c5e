package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
)

// ErrInvalidMessage marks a message that can never be processed.
var ErrInvalidMessage = errors.New("invalid analysis message")

// JobRunner runs one analysis job. *runner.Runner implements it.
type JobRunner interface {
	Run(ctx context.Context, job common.AnalysisJob) error
}

// EnqueueAnalysis publishes job to the analysis queue.
func EnqueueAnalysis(ctx context.Context, ch Publisher, job common.AnalysisJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := PublishFIFO(ctx, ch, AnalysisQueue, data); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ProcessAnalysisMessage runs the job in body. A failed run has already
// been reported to its subscribers and is not retried, so only
// interruptions by ctx are returned for redelivery.
func ProcessAnalysisMessage(ctx context.Context, runner JobRunner, body []byte) error {
	var job common.AnalysisJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	job.SessionKey = strings.TrimSpace(job.SessionKey)
	job.DocumentID = strings.TrimSpace(job.DocumentID)
	if job.SessionKey == "" || job.DocumentID == "" {
		return fmt.Errorf("%w: sessionKey and documentId are required", ErrInvalidMessage)
	}

	logger.Info("[Queue] Processing analysis", "session", job.SessionKey, "document", job.DocumentID)
	if err := runner.Run(ctx, job); err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("[Queue] Analysis failed", "session", job.SessionKey, "err", err)
	}
	return nil
}

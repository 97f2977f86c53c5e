package graph

import (
	"errors"
	"fmt"
)

// OracleCallError is a failed or unparseable extraction call. It is
// recovered locally as an empty result and never aborts a run.
type OracleCallError struct {
	Op  string
	Err error
}

func (e *OracleCallError) Error() string {
	return fmt.Sprintf("oracle %s failed: %v", e.Op, e.Err)
}

func (e *OracleCallError) Unwrap() error {
	return e.Err
}

// RunError is a fatal orchestration failure that is not a fetch failure.
type RunError struct {
	Phase string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("analysis failed while %s: %v", e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ErrEmptyDocument is returned when a fetched document contains no text.
var ErrEmptyDocument = errors.New("document is empty")

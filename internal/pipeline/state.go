package pipeline

import (
	"context"
	"errors"
	"fmt"
)

type State string

const (
	StateInit        State = "init"
	StateSchemaReady State = "schema_ready"
	StateFetched     State = "fetched"
	StateTransformed State = "transformed"
	StateLoaded      State = "loaded"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

type Stage string

const (
	StageSchema    Stage = "schema"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Error is how a run fails: which stage, and why.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %s", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the whole pipeline again might succeed.
func (e *Error) Retryable() bool {
	return IsRetryable(e.Err)
}

type retryable interface {
	Retryable() bool
}

// IsRetryable classifies any error out of a run.
//
// Errors that know their own retryability decide for themselves. A canceled or
// timed out context is retryable. Everything else is treated as fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

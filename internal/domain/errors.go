package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrJobFinished      = errors.New("job already in a terminal state")
	ErrDeadlineExceeded = errors.New("deadline exceeded waiting for job")
	ErrInvalidPrompt    = errors.New("invalid prompt")
)

// StageError marks which pipeline stage a run failed in. It wraps the
// underlying cause so callers can still errors.Is/As through it.
type StageError struct {
	Stage Stage
	Err   error
}

func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// JobErrorFrom renders err as a JobError. Errors that do not carry a stage are
// attributed to the given fallback.
func JobErrorFrom(err error, fallback Stage) JobError {
	var se *StageError
	if errors.As(err, &se) {
		return JobError{Stage: se.Stage, Message: se.Err.Error()}
	}
	return JobError{Stage: fallback, Message: err.Error()}
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyCode is returned when the model produced no usable code; the
// pipeline never attempts to execute empty input.
var ErrEmptyCode = errors.New("model returned no usable code")

// StageError attributes a failure to the pipeline stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// newStageError wraps err with its originating stage.
func newStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

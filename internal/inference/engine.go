package inference

import (
	"context"
	"errors"
	"fmt"
)

// Engine executes one model. Implementations must be safe for use from
// a single goroutine at a time; the Runner serialises calls per stage.
type Engine interface {
	// Infer runs the model on one input tensor. What the output tensors
	// mean is a contract between the model and the postprocessing layer,
	// not something this package interprets.
	Infer(ctx context.Context, input Tensor) ([]Tensor, error)
	// ModelID identifies the loaded model (file name or version tag).
	// Recorded with every inspection so results stay traceable.
	ModelID() string
	Close() error
}

// Sentinel errors for stage execution failure classes.
var (
	// ErrStageTimeout reports that a stage's engine did not return
	// within its deadline.
	ErrStageTimeout = errors.New("inference: stage timeout")
	// ErrNoEngine reports that no engine is registered for a stage.
	ErrNoEngine = errors.New("inference: no engine for stage")
)

// StageError wraps an engine failure with the stage it happened on.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("inference: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// RunnerConfig contains configuration options for a Runner.
type RunnerConfig struct {
	// InputSize is the square model input edge in pixels (default: 640).
	InputSize int
	// StageTimeout is the default per-stage deadline (default: 1s).
	StageTimeout time.Duration
	// StageTimeouts overrides the default for individual stages.
	StageTimeouts map[Stage]time.Duration
}

func (c *RunnerConfig) inputSize() int {
	if c.InputSize <= 0 {
		return 640
	}
	return c.InputSize
}

func (c *RunnerConfig) timeoutFor(stage Stage) time.Duration {
	if d, ok := c.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	if c.StageTimeout > 0 {
		return c.StageTimeout
	}
	return time.Second
}

// Runner owns the stage→engine binding and enforces the timeout
// contract: an engine that overruns its deadline is reported as timed
// out and its eventual result discarded, so one stuck model cannot
// stall the pipeline.
type Runner struct {
	cfg     RunnerConfig
	mu      sync.Mutex
	engines map[Stage]Engine
}

// NewRunner creates a Runner with no engines bound.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg, engines: make(map[Stage]Engine)}
}

// InputSize returns the square model input edge frames are resized
// to. Decoded boxes arrive in this coordinate space.
func (r *Runner) InputSize() int {
	return r.cfg.inputSize()
}

// Bind attaches an engine to a stage, replacing any previous binding.
func (r *Runner) Bind(stage Stage, e Engine) error {
	if !stage.Valid() {
		return fmt.Errorf("inference: bind to unknown stage %q", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[stage] = e
	return nil
}

// EngineFor returns the engine bound to a stage, or nil.
func (r *Runner) EngineFor(stage Stage) Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[stage]
}

// ModelIDs returns the stage→model identifier map for all bound
// stages. Recorded with every inspection.
func (r *Runner) ModelIDs() map[Stage]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Stage]string, len(r.engines))
	for s, e := range r.engines {
		out[s] = e.ModelID()
	}
	return out
}

// Run preprocesses the frame and executes the stage's engine under its
// deadline. Returns the raw output tensors.
func (r *Runner) Run(ctx context.Context, stage Stage, frame *camera.Frame) ([]Tensor, error) {
	e := r.EngineFor(stage)
	if e == nil {
		return nil, &StageError{Stage: stage, Err: ErrNoEngine}
	}

	input := Preprocess(frame, r.cfg.inputSize())

	timeout := r.cfg.timeoutFor(stage)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out []Tensor
		err error
	}
	// Engines are not trusted to honour the context. The call runs in
	// its own goroutine and a late result is dropped.
	ch := make(chan result, 1)
	go func() {
		out, err := e.Infer(runCtx, input)
		ch <- result{out, err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, &StageError{Stage: stage, Err: ctx.Err()}
		}
		monitoring.Logf("inference: stage %s exceeded %v deadline", stage, timeout)
		return nil, &StageError{Stage: stage, Err: ErrStageTimeout}
	case res := <-ch:
		if res.err != nil {
			return nil, &StageError{Stage: stage, Err: res.err}
		}
		return res.out, nil
	}
}

// Close releases every bound engine.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for stage, e := range r.engines {
		if err := e.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s engine: %w", stage, err)
		}
	}
	return first
}

// Preprocess converts a BGR frame into the model input layout: square
// resize to size x size, BGR to RGB, HWC to CHW, scaled to [0,1].
func Preprocess(frame *camera.Frame, size int) Tensor {
	t := NewTensor(1, 3, size, size)
	plane := size * size
	for dy := 0; dy < size; dy++ {
		sy := dy * frame.Height / size
		for dx := 0; dx < size; dx++ {
			sx := dx * frame.Width / size
			src := (sy*frame.Width + sx) * 3
			dst := dy*size + dx
			// channel order RGB
			t.Data[dst] = float32(frame.Pixels[src+2]) / 255
			t.Data[plane+dst] = float32(frame.Pixels[src+1]) / 255
			t.Data[2*plane+dst] = float32(frame.Pixels[src]) / 255
		}
	}
	return t
}

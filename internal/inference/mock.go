package inference

import (
	"context"
	"time"
)

// MockEngine returns canned tensors. Used by dev mode and tests in
// place of a real model.
type MockEngine struct {
	ID      string
	Outputs []Tensor
	Err     error
	// Delay makes Infer take this long, for timeout tests.
	Delay time.Duration
	// Calls counts Infer invocations.
	Calls int
}

func (m *MockEngine) Infer(ctx context.Context, input Tensor) ([]Tensor, error) {
	m.Calls++
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Outputs, nil
}

func (m *MockEngine) ModelID() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

func (m *MockEngine) Close() error { return nil }

var _ Engine = (*MockEngine)(nil)

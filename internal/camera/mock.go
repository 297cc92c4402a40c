package camera

import (
	"context"
	"sync/atomic"
	"time"
)

// MockBackend synthesises frames at a fixed interval. Used by dev mode
// and tests in place of real hardware.
type MockBackend struct {
	// Width/Height of generated frames (default: 640x640).
	Width  int
	Height int
	// Interval between frames (default: 33ms, ~30fps).
	Interval time.Duration
	// FailAfter, when > 0, makes Grab fail once that many frames have
	// been produced. Exercises the mid-session failure path.
	FailAfter int
	// Fill, when set, is called to paint each frame.
	Fill func(n int, pixels []byte, w, h int)

	count  int
	closed atomic.Bool
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Open(ctx context.Context) error { return nil }

func (m *MockBackend) Grab(ctx context.Context) (*Frame, error) {
	w, h := m.Width, m.Height
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 640
	}
	interval := m.Interval
	if interval == 0 {
		interval = 33 * time.Millisecond
	}

	// First frame is immediate so startup probing is fast.
	if m.count > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	if m.closed.Load() {
		return nil, ErrStopped
	}
	if m.FailAfter > 0 && m.count >= m.FailAfter {
		return nil, ErrAcquisitionFatal
	}

	pixels := make([]byte, w*h*3)
	if m.Fill != nil {
		m.Fill(m.count, pixels, w, h)
	} else {
		// Horizontal gradient so the illumination stats are non-trivial.
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := byte(255 * x / w)
				i := (y*w + x) * 3
				pixels[i], pixels[i+1], pixels[i+2] = v, v, v
			}
		}
	}
	m.count++
	return &Frame{Width: w, Height: h, Pixels: pixels, CapturedAt: time.Now()}, nil
}

func (m *MockBackend) Close() error {
	m.closed.Store(true)
	return nil
}

var _ Backend = (*MockBackend)(nil)

package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// Backend is a single capture device. Open establishes the stream and
// must verify at least that the device exists; Grab blocks until the
// device delivers the next frame. Backends reuse internal buffers, so
// the Source clones frames before publishing them.
type Backend interface {
	Name() string
	Open(ctx context.Context) error
	Grab(ctx context.Context) (*Frame, error)
	Close() error
}

// SourceConfig contains configuration options for a Source.
type SourceConfig struct {
	// FrameTimeout bounds how long a Frame call waits for a new frame
	// (default: 100ms).
	FrameTimeout time.Duration
	// StartupTimeout bounds backend probing during Start (default: 5s).
	// Each configured backend gets the full budget before the source
	// fails over to the next one.
	StartupTimeout time.Duration
	// WarmupFrames is the number of frames grabbed and discarded after a
	// backend opens, letting auto-exposure settle (default: 0).
	WarmupFrames int
}

func (c *SourceConfig) frameTimeout() time.Duration {
	if c.FrameTimeout <= 0 {
		return 100 * time.Millisecond
	}
	return c.FrameTimeout
}

func (c *SourceConfig) startupTimeout() time.Duration {
	if c.StartupTimeout <= 0 {
		return 5 * time.Second
	}
	return c.StartupTimeout
}

// CaptureStats is a snapshot of source counters.
type CaptureStats struct {
	Backend      string        `json:"backend"`
	Frames       uint64        `json:"frames"`
	Dropped      uint64        `json:"dropped"`
	FPS          float64       `json:"fps"`
	MeanLatency  time.Duration `json:"mean_latency_ns"`
	LastSequence uint64        `json:"last_sequence"`
}

// Source owns the capture goroutine and the double buffer between it
// and consumers. Backends are probed in order at Start; the first one
// that opens and delivers a frame becomes the active backend for the
// whole session.
type Source struct {
	cfg      SourceConfig
	backends []Backend

	buf    *frameBuffer
	active Backend

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	fatal     error
	lastSeq   uint64
	started   time.Time
	latencies latencyWindow
}

// NewSource creates a Source over the given backends. Backends are
// tried in the order supplied; pass the industrial sensor first and
// the webcam fallback second.
func NewSource(cfg SourceConfig, backends ...Backend) *Source {
	return &Source{
		cfg:      cfg,
		backends: backends,
		buf:      newFrameBuffer(),
	}
}

// Start probes the configured backends in order and starts the capture
// loop on the first one that opens and delivers a frame within the
// startup timeout. Returns ErrNoBackend when every backend fails.
func (s *Source) Start(ctx context.Context) error {
	if len(s.backends) == 0 {
		return ErrNoBackend
	}

	var probeErrs []error
	for _, b := range s.backends {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.startupTimeout())
		err := s.probe(probeCtx, b)
		cancel()
		if err == nil {
			s.active = b
			break
		}
		probeErrs = append(probeErrs, fmt.Errorf("%s: %w", b.Name(), err))
		monitoring.Logf("camera: backend %s unavailable: %v", b.Name(), err)
	}
	if s.active == nil {
		return fmt.Errorf("%w: %v", ErrNoBackend, probeErrs)
	}
	monitoring.Logf("camera: capturing from backend %s", s.active.Name())

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.captureLoop(runCtx)
	return nil
}

// probe opens a backend and requires one real frame (plus any warmup
// frames) before accepting it.
func (s *Source) probe(ctx context.Context, b Backend) error {
	if err := b.Open(ctx); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	for i := 0; i <= s.cfg.WarmupFrames; i++ {
		if _, err := b.Grab(ctx); err != nil {
			b.Close()
			return fmt.Errorf("first frame: %w", err)
		}
	}
	return nil
}

func (s *Source) captureLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		f, err := s.active.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed read on an established stream is not retried: the
			// device state is unknown and stale frames must not be served
			// as fresh ones.
			s.mu.Lock()
			s.fatal = fmt.Errorf("%w: %s: %v", ErrAcquisitionFatal, s.active.Name(), err)
			s.mu.Unlock()
			s.buf.Close()
			monitoring.Logf("camera: capture stopped: %v", err)
			return
		}
		pub := f.Clone()
		pub.Backend = s.active.Name()
		if pub.CapturedAt.IsZero() {
			pub.CapturedAt = time.Now()
		}
		s.buf.Publish(pub)
	}
}

// Frame blocks until a frame newer than the previously delivered one
// is available, up to the configured frame timeout. It returns the
// frame and the time spent waiting. After a capture failure it
// returns the fatal error for every call.
func (s *Source) Frame(ctx context.Context) (*Frame, time.Duration, error) {
	s.mu.Lock()
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return nil, 0, err
	}
	after := s.lastSeq
	s.mu.Unlock()

	timeout := s.cfg.frameTimeout()
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}

	start := time.Now()
	f, err := s.buf.Next(after, timeout)
	waited := time.Since(start)
	if err != nil {
		s.mu.Lock()
		if s.fatal != nil {
			err = s.fatal
		}
		s.mu.Unlock()
		return nil, waited, err
	}

	s.mu.Lock()
	s.lastSeq = f.Seq
	s.latencies.add(waited)
	s.mu.Unlock()
	return f, waited, nil
}

// Stop shuts down the capture loop and releases the active backend.
// Safe to call more than once.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.buf.Close()
	s.wg.Wait()
	if s.active != nil {
		if err := s.active.Close(); err != nil {
			monitoring.Logf("camera: close %s: %v", s.active.Name(), err)
		}
		s.active = nil
	}
}

// ActiveBackend returns the name of the backend selected at Start, or
// "" before Start succeeds.
func (s *Source) ActiveBackend() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// Stats returns a snapshot of capture counters.
func (s *Source) Stats() CaptureStats {
	bs := s.buf.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()

	st := CaptureStats{
		Backend:      s.ActiveBackend(),
		Frames:       bs.Published,
		Dropped:      bs.Dropped,
		LastSequence: s.lastSeq,
		MeanLatency:  s.latencies.mean(),
	}
	if !s.started.IsZero() {
		if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
			st.FPS = float64(bs.Published) / elapsed
		}
	}
	return st
}

// latencyWindow keeps a small rolling window of frame access latencies.
type latencyWindow struct {
	samples [32]time.Duration
	n       int
	next    int
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.n < len(w.samples) {
		w.n++
	}
}

func (w *latencyWindow) mean() time.Duration {
	if w.n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(w.n)
}

package camera

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// SensorConfig contains configuration options for the industrial
// sensor backend.
type SensorConfig struct {
	// ListenAddr is the UDP address the sensor streams to, e.g. ":5600".
	ListenAddr string
	// RcvBuf is the socket receive buffer size in bytes (default: 4MB;
	// full frames burst faster than the default socket buffer absorbs).
	RcvBuf int
	// TargetWidth/TargetHeight is the resolution frames are normalised
	// to before delivery; zero disables adaptation.
	TargetWidth  int
	TargetHeight int
	// MinCompleteness is the block completeness ratio below which an
	// assembled frame is discarded (default: 1.0).
	MinCompleteness float64
	// Trigger optionally arms a hardware trigger line when the stream
	// opens and disarms it on close.
	Trigger *TriggerController
	// Head optionally holds acquisition parameters written to the
	// sensor over the trigger service port before arming. Ignored
	// without a Trigger.
	Head *HeadSettings
}

// SensorBackend receives frames streamed over UDP by the line-scan
// sensor head. Packets are reassembled into complete frames; gappy
// frames are dropped at the assembly layer so consumers only ever see
// whole images.
type SensorBackend struct {
	cfg  SensorConfig
	conn *net.UDPConn
	asm  *frameAssembler

	// frames holds the most recently assembled frame. Capacity one with
	// drop-oldest: assembly never blocks on a slow consumer.
	frames chan *Frame

	plansMu sync.Mutex
	plans   map[[2]int]AdaptPlan

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSensorBackend creates the sensor backend. The stream is not
// opened until Open is called.
func NewSensorBackend(cfg SensorConfig) *SensorBackend {
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = 4 * 1024 * 1024
	}
	s := &SensorBackend{
		cfg:    cfg,
		frames: make(chan *Frame, 1),
		plans:  make(map[[2]int]AdaptPlan),
	}
	s.asm = newFrameAssembler(cfg.MinCompleteness, s.deliver)
	return s
}

func (s *SensorBackend) Name() string { return "sensor" }

// Open binds the stream socket, arms the trigger line if one is
// configured, and starts the packet read loop.
func (s *SensorBackend) Open(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve stream address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on stream address: %w", err)
	}
	if err := conn.SetReadBuffer(s.cfg.RcvBuf); err != nil {
		monitoring.Logf("camera: failed to set receive buffer to %d: %v", s.cfg.RcvBuf, err)
	}
	s.conn = conn

	if s.cfg.Trigger != nil {
		if s.cfg.Head != nil {
			if err := s.cfg.Trigger.Configure(*s.cfg.Head); err != nil {
				conn.Close()
				s.conn = nil
				return fmt.Errorf("configure head: %w", err)
			}
		}
		if err := s.cfg.Trigger.Arm(); err != nil {
			conn.Close()
			s.conn = nil
			return fmt.Errorf("arm trigger: %w", err)
		}
	} else if s.cfg.Head != nil {
		monitoring.Logf("camera: head settings configured but no trigger port, skipping")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(runCtx)

	monitoring.Logf("camera: sensor stream listening on %s", s.cfg.ListenAddr)
	return nil
}

func (s *SensorBackend) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// Short read deadline so context cancellation is noticed.
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("camera: sensor read error: %v", err)
			continue
		}
		s.asm.HandlePacket(buf[:n])
	}
}

// deliver normalises an assembled frame to the target resolution and
// places it in the hand-off slot, displacing any unread predecessor.
func (s *SensorBackend) deliver(f *Frame) {
	if s.cfg.TargetWidth > 0 && s.cfg.TargetHeight > 0 &&
		(f.Width != s.cfg.TargetWidth || f.Height != s.cfg.TargetHeight) {
		plan, err := s.planFor(f.Width, f.Height)
		if err != nil {
			monitoring.Logf("camera: cannot adapt %dx%d frame: %v", f.Width, f.Height, err)
			return
		}
		pixels, err := plan.Apply(f.Pixels)
		if err != nil {
			monitoring.Logf("camera: adaptation failed: %v", err)
			return
		}
		f = &Frame{Width: plan.TargetW, Height: plan.TargetH, Pixels: pixels, CapturedAt: f.CapturedAt}
	}

	select {
	case s.frames <- f:
	default:
		select {
		case <-s.frames:
		default:
		}
		s.frames <- f
	}
}

func (s *SensorBackend) planFor(w, h int) (AdaptPlan, error) {
	s.plansMu.Lock()
	defer s.plansMu.Unlock()
	key := [2]int{w, h}
	if p, ok := s.plans[key]; ok {
		return p, nil
	}
	p, err := PlanAdaptation(w, h, s.cfg.TargetWidth, s.cfg.TargetHeight)
	if err != nil {
		return AdaptPlan{}, err
	}
	monitoring.Logf("camera: sensor %dx%d -> %dx%d via %s", w, h, p.TargetW, p.TargetH, p.Mode)
	s.plans[key] = p
	return p, nil
}

// Grab blocks until the next assembled frame or context cancellation.
func (s *SensorBackend) Grab(ctx context.Context) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return nil, ErrStopped
		}
		return f, nil
	}
}

// Close stops the read loop, disarms the trigger and closes the
// socket.
func (s *SensorBackend) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.wg.Wait()
	if s.cfg.Trigger != nil {
		if derr := s.cfg.Trigger.Disarm(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

// Addr returns the bound stream address, or nil before Open. Useful
// when the listen address was given with port 0.
func (s *SensorBackend) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// HandlePacket feeds one raw stream packet into the assembler.
// Used by the capture replayer in place of the UDP socket.
func (s *SensorBackend) HandlePacket(pkt []byte) {
	s.asm.HandlePacket(pkt)
}

// AssemblyStats exposes reassembly counters for the stats endpoint.
func (s *SensorBackend) AssemblyStats() AssemblerStats {
	return s.asm.Stats()
}

package camera

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// TriggerController drives the hardware trigger line of the sensor
// head over its RS-232 service port. The protocol is line based: each
// command is answered with "OK" or "ERR <reason>".
type TriggerController struct {
	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
	armed  bool
}

// OpenTrigger opens the trigger service port. The port settings are
// fixed by the sensor head (115200 8N1).
func OpenTrigger(portName string) (*TriggerController, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open trigger port %s: %w", portName, err)
	}
	return NewTriggerController(port), nil
}

// NewTriggerController wraps an already-open port. Tests pass a mock
// implementing serial.Port.
func NewTriggerController(port serial.Port) *TriggerController {
	return &TriggerController{port: port, reader: bufio.NewReader(port)}
}

// HeadSettings are the acquisition parameters written to the sensor
// head over the service port before the stream is armed. Zero-valued
// fields are skipped, leaving the head's programmed value untouched.
type HeadSettings struct {
	// ExposureUs is the line exposure time in microseconds.
	ExposureUs int
	// Gain is the analog gain in dB.
	Gain float64
	// FrameRate is the acquisition rate in frames per second.
	FrameRate float64
	// ROIWidth/ROIHeight select the readout window; ROIX/ROIY place its
	// top-left corner on the full sensor area.
	ROIX, ROIY          int
	ROIWidth, ROIHeight int
}

func (h HeadSettings) validate() error {
	if h.ExposureUs < 0 {
		return fmt.Errorf("head settings: exposure %dus is negative", h.ExposureUs)
	}
	if h.Gain < 0 {
		return fmt.Errorf("head settings: gain %gdB is negative", h.Gain)
	}
	if h.FrameRate < 0 {
		return fmt.Errorf("head settings: frame rate %g is negative", h.FrameRate)
	}
	if h.ROIWidth < 0 || h.ROIHeight < 0 || h.ROIX < 0 || h.ROIY < 0 {
		return fmt.Errorf("head settings: ROI %d,%d %dx%d has negative component",
			h.ROIX, h.ROIY, h.ROIWidth, h.ROIHeight)
	}
	if (h.ROIWidth == 0) != (h.ROIHeight == 0) {
		return fmt.Errorf("head settings: ROI needs both width and height, got %dx%d",
			h.ROIWidth, h.ROIHeight)
	}
	return nil
}

// Configure writes the non-zero head settings to the sensor. Must be
// called before Arm; the head rejects parameter writes while the
// trigger line is active.
func (t *TriggerController) Configure(h HeadSettings) error {
	if err := h.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return fmt.Errorf("head settings: cannot configure while armed")
	}
	if h.ExposureUs > 0 {
		if err := t.command(fmt.Sprintf("SET EXPOSURE %d", h.ExposureUs)); err != nil {
			return err
		}
	}
	if h.Gain > 0 {
		if err := t.command(fmt.Sprintf("SET GAIN %g", h.Gain)); err != nil {
			return err
		}
	}
	if h.FrameRate > 0 {
		if err := t.command(fmt.Sprintf("SET FPS %g", h.FrameRate)); err != nil {
			return err
		}
	}
	if h.ROIWidth > 0 {
		cmd := fmt.Sprintf("SET ROI %d %d %d %d", h.ROIX, h.ROIY, h.ROIWidth, h.ROIHeight)
		if err := t.command(cmd); err != nil {
			return err
		}
	}
	monitoring.Debugf("camera: head configured: %+v", h)
	return nil
}

// Arm enables continuous acquisition on the trigger line.
func (t *TriggerController) Arm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return nil
	}
	if err := t.command("TRIG CONT"); err != nil {
		return err
	}
	t.armed = true
	monitoring.Logf("camera: trigger armed for continuous acquisition")
	return nil
}

// Fire requests a single exposure. Only valid while armed.
func (t *TriggerController) Fire() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return fmt.Errorf("trigger fire: not armed")
	}
	return t.command("TRIG ONCE")
}

// Disarm stops acquisition. Safe to call when not armed.
func (t *TriggerController) Disarm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return nil
	}
	t.armed = false
	return t.command("TRIG OFF")
}

// Close disarms if needed and closes the port.
func (t *TriggerController) Close() error {
	if err := t.Disarm(); err != nil {
		monitoring.Logf("camera: trigger disarm on close: %v", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}

// command writes one command line and waits for its acknowledgement.
// Callers hold t.mu.
func (t *TriggerController) command(cmd string) error {
	if _, err := t.port.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("trigger write %q: %w", cmd, err)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("trigger read ack for %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)
	if line != "OK" {
		return fmt.Errorf("trigger %q rejected: %s", cmd, line)
	}
	return nil
}

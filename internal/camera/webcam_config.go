package camera

import "time"

// WebcamConfig contains configuration options for the consumer-webcam
// fallback backend.
type WebcamConfig struct {
	// MaxDeviceIndex bounds the device scan: indices 0..MaxDeviceIndex
	// are probed in order and the first device that delivers a frame
	// wins (default: 9).
	MaxDeviceIndex int
	// ProbeTimeout bounds how long a single device probe may take
	// (default: 1s).
	ProbeTimeout time.Duration
	// TargetWidth/TargetHeight is the resolution frames are normalised
	// to; zero disables adaptation.
	TargetWidth  int
	TargetHeight int
	// Exposure and Gain are applied to the device after it opens. Zero
	// leaves the driver's auto mode in place.
	Exposure float64
	Gain     float64
	// FrameRate is the requested capture rate; zero keeps the device
	// default.
	FrameRate float64
}

func (c *WebcamConfig) maxDeviceIndex() int {
	if c.MaxDeviceIndex <= 0 {
		return 9
	}
	return c.MaxDeviceIndex
}

func (c *WebcamConfig) probeTimeout() time.Duration {
	if c.ProbeTimeout <= 0 {
		return time.Second
	}
	return c.ProbeTimeout
}

//go:build gocv
// +build gocv

package camera

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// WebcamBackend captures from a consumer UVC camera through OpenCV.
// It is the fallback path when the industrial sensor is unavailable.
// Only available when building with the 'gocv' build tag.
type WebcamBackend struct {
	cfg    WebcamConfig
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	plan   AdaptPlan
	device int
}

// NewWebcamBackend creates the webcam fallback backend. The device
// scan happens in Open.
func NewWebcamBackend(cfg WebcamConfig) Backend {
	return &WebcamBackend{cfg: cfg, device: -1}
}

func (w *WebcamBackend) Name() string { return "webcam" }

// Open probes device indices 0..MaxDeviceIndex in order and keeps the
// first one that opens and delivers a non-empty frame within the
// probe timeout.
func (w *WebcamBackend) Open(ctx context.Context) error {
	for idx := 0; idx <= w.cfg.maxDeviceIndex(); idx++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cap, mat, ok := w.probeDevice(ctx, idx)
		if !ok {
			continue
		}
		w.cap = cap
		w.mat = mat
		w.device = idx
		w.applySettings()

		native := w.mat.Cols()
		nativeH := w.mat.Rows()
		if w.cfg.TargetWidth > 0 && w.cfg.TargetHeight > 0 {
			plan, err := PlanAdaptation(native, nativeH, w.cfg.TargetWidth, w.cfg.TargetHeight)
			if err != nil {
				w.Close()
				return err
			}
			w.plan = plan
			monitoring.Logf("camera: webcam %d native %dx%d -> %dx%d via %s",
				idx, native, nativeH, plan.TargetW, plan.TargetH, plan.Mode)
		} else {
			w.plan = AdaptPlan{Mode: AdaptNone, NativeW: native, NativeH: nativeH, TargetW: native, TargetH: nativeH}
		}
		monitoring.Logf("camera: webcam backend using device %d", idx)
		return nil
	}
	return fmt.Errorf("no webcam found in devices 0..%d", w.cfg.maxDeviceIndex())
}

// applySettings pushes the configured exposure, gain and frame rate
// to the device. Unsupported properties are silently ignored by the
// driver, so failures here are not fatal.
func (w *WebcamBackend) applySettings() {
	if w.cfg.Exposure != 0 {
		w.cap.Set(gocv.VideoCaptureExposure, w.cfg.Exposure)
	}
	if w.cfg.Gain > 0 {
		w.cap.Set(gocv.VideoCaptureGain, w.cfg.Gain)
	}
	if w.cfg.FrameRate > 0 {
		w.cap.Set(gocv.VideoCaptureFPS, w.cfg.FrameRate)
	}
}

// probeDevice opens one device index and requires a non-empty frame
// before the probe deadline.
func (w *WebcamBackend) probeDevice(ctx context.Context, idx int) (*gocv.VideoCapture, gocv.Mat, bool) {
	cap, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, gocv.Mat{}, false
	}
	mat := gocv.NewMat()
	deadline := time.Now().Add(w.cfg.probeTimeout())
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if cap.Read(&mat) && !mat.Empty() {
			return cap, mat, true
		}
		time.Sleep(20 * time.Millisecond)
	}
	mat.Close()
	cap.Close()
	return nil, gocv.Mat{}, false
}

// Grab reads the next frame from the device and normalises it to the
// target resolution.
func (w *WebcamBackend) Grab(ctx context.Context) (*Frame, error) {
	if w.cap == nil {
		return nil, fmt.Errorf("webcam not open")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !w.cap.Read(&w.mat) || w.mat.Empty() {
		return nil, fmt.Errorf("webcam device %d read failed", w.device)
	}
	pixels := w.mat.ToBytes()
	out, err := w.plan.Apply(pixels)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Width:      w.plan.TargetW,
		Height:     w.plan.TargetH,
		Pixels:     out,
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the device.
func (w *WebcamBackend) Close() error {
	if w.mat.Ptr() != nil {
		w.mat.Close()
	}
	if w.cap != nil {
		err := w.cap.Close()
		w.cap = nil
		return err
	}
	return nil
}

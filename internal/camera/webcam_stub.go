//go:build !gocv
// +build !gocv

package camera

import (
	"context"
	"fmt"
)

// NewWebcamBackend is a stub implementation when OpenCV support is
// disabled. Build with -tags=gocv to enable the webcam fallback.
func NewWebcamBackend(cfg WebcamConfig) Backend {
	return webcamStub{}
}

type webcamStub struct{}

func (webcamStub) Name() string { return "webcam" }

func (webcamStub) Open(ctx context.Context) error {
	return fmt.Errorf("webcam support not enabled: rebuild with -tags=gocv")
}

func (webcamStub) Grab(ctx context.Context) (*Frame, error) {
	return nil, fmt.Errorf("webcam support not enabled: rebuild with -tags=gocv")
}

func (webcamStub) Close() error { return nil }

//go:build !gocv
// +build !gocv

package inference

import "fmt"

// NewDNNEngine is a stub implementation when OpenCV support is
// disabled. Build with -tags=gocv to enable ONNX model execution.
func NewDNNEngine(modelPath string) (Engine, error) {
	return nil, fmt.Errorf("DNN support not enabled: rebuild with -tags=gocv to load %s", modelPath)
}

//go:build gocv
// +build gocv

package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"unsafe"

	"gocv.io/x/gocv"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// DNNEngine runs an ONNX model through the OpenCV DNN module. Only
// available when building with the 'gocv' build tag.
type DNNEngine struct {
	net     gocv.Net
	modelID string
	outputs []string
}

// NewDNNEngine loads an ONNX model file. The model identifier is the
// file's base name.
func NewDNNEngine(modelPath string) (Engine, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load model %s: empty network", modelPath)
	}
	e := &DNNEngine{
		net:     net,
		modelID: filepath.Base(modelPath),
		outputs: net.GetUnconnectedOutLayerNames(),
	}
	monitoring.Logf("inference: loaded %s (%d output layers)", e.modelID, len(e.outputs))
	return e, nil
}

func (e *DNNEngine) ModelID() string { return e.modelID }

// Infer feeds the CHW input blob through the network and converts the
// output Mats back into tensors.
func (e *DNNEngine) Infer(ctx context.Context, input Tensor) ([]Tensor, error) {
	if err := input.Check(); err != nil {
		return nil, err
	}
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("expected NCHW input, got shape %v", input.Shape)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(&input.Data[0])), len(input.Data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(input.Shape, gocv.MatTypeCV32F, data)
	if err != nil {
		return nil, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	e.net.SetInput(blob, "")
	mats := e.net.ForwardLayers(e.outputs)
	out := make([]Tensor, 0, len(mats))
	for i := range mats {
		t, err := matToTensor(&mats[i])
		mats[i].Close()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func matToTensor(m *gocv.Mat) (Tensor, error) {
	sizes := m.Size()
	if len(sizes) == 0 {
		return Tensor{}, fmt.Errorf("output mat has no shape")
	}
	src, err := m.DataPtrFloat32()
	if err != nil {
		return Tensor{}, fmt.Errorf("read output mat: %w", err)
	}
	t := NewTensor(sizes...)
	copy(t.Data, src)
	return t, nil
}

func (e *DNNEngine) Close() error {
	return e.net.Close()
}

var _ Engine = (*DNNEngine)(nil)

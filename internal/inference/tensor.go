package inference

import "fmt"

// Tensor is a dense float32 array with a row-major shape. It is the
// only currency between the pipeline and the model engines.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

// Len returns the number of elements implied by the shape.
func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Check validates that the data length matches the shape.
func (t Tensor) Check() error {
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor shape %v implies %d elements, have %d", t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

// Dim returns the size of axis i, treating leading batch axes of size
// one as removable: Dim(-1) is the last axis.
func (t Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Squeeze drops leading axes of size one, returning a view over the
// same data. Model outputs arrive batched as (1, ...) and every
// consumer wants the unbatched view.
func (t Tensor) Squeeze() Tensor {
	shape := t.Shape
	for len(shape) > 1 && shape[0] == 1 {
		shape = shape[1:]
	}
	return Tensor{Shape: shape, Data: t.Data}
}

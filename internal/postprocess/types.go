// Package postprocess turns raw model output tensors into filtered
// detections and segmentations. Every function here is a pure function
// of its inputs: same tensors and thresholds in, same results out.
package postprocess

import "math"

// ThresholdSet is one pair of decoding thresholds. The adaptive
// controller produces these; the decoders only read them.
type ThresholdSet struct {
	Confidence float64 `json:"confidence"`
	IoU        float64 `json:"iou"`
}

// Box is an axis-aligned box in image pixel coordinates, x2/y2
// exclusive.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU computes intersection over union with another box.
func (b Box) IoU(o Box) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Union returns the smallest box covering both boxes.
func (b Box) Union(o Box) Box {
	return Box{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

// Clamp limits the box to the image rectangle [0,w) x [0,h).
func (b Box) Clamp(w, h float64) Box {
	return Box{
		X1: math.Max(0, math.Min(b.X1, w)),
		Y1: math.Max(0, math.Min(b.Y1, h)),
		X2: math.Max(0, math.Min(b.X2, w)),
		Y2: math.Max(0, math.Min(b.Y2, h)),
	}
}

// Detection is one decoded box with its class and confidence.
type Detection struct {
	Box   Box     `json:"bbox"`
	Score float64 `json:"confidence"`
	Class int     `json:"class_index"`
	Label string  `json:"label,omitempty"`
}

// Segmentation is a detection with its decoded binary mask.
type Segmentation struct {
	Detection
	Mask Mask `json:"-"`
	// MaskArea and mask extents are denormalised here so persisted
	// results carry them without the full bitmap.
	MaskArea   int `json:"mask_area"`
	MaskWidth  int `json:"mask_width"`
	MaskHeight int `json:"mask_height"`
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

package postprocess

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/coupling-works/inspect.station/internal/inference"
)

// Detector output layout: one tensor shaped (4+C, N) after squeezing
// the batch axis. Rows 0..3 are cx, cy, w, h in input pixel space,
// rows 4.. are per-class logits. Segmentation models append 32 mask
// coefficients per candidate and emit a second prototype tensor
// shaped (32, Hp, Wp).
const maskCoeffs = 32

// DefaultInputSize is the square model input edge assumed when the
// caller passes a non-positive size.
const DefaultInputSize = 640

// DecodeDetections decodes a detector tensor into confidence-filtered,
// NMS-pruned detections in image coordinates. Candidate boxes arrive
// in the model's square input space of edge inputSize; imgW/imgH is
// the frame geometry they are scaled to.
func DecodeDetections(raw inference.Tensor, ts ThresholdSet, imgW, imgH, inputSize int) ([]Detection, error) {
	t := raw.Squeeze()
	if err := t.Check(); err != nil {
		return nil, err
	}
	if len(t.Shape) != 2 || t.Shape[0] < 5 {
		return nil, fmt.Errorf("detector output shape %v, want (4+classes, candidates)", t.Shape)
	}
	attrs, n := t.Shape[0], t.Shape[1]
	classes := attrs - 4

	cands := decodeCandidates(t, n, classes, 0, ts.Confidence, imgW, imgH, inputSize)
	dets := make([]Detection, len(cands))
	for i, c := range cands {
		dets[i] = c.det
	}
	keep := nonMaxSuppression(dets, ts.IoU)
	out := make([]Detection, 0, len(keep))
	for _, i := range keep {
		out = append(out, dets[i])
	}
	return out, nil
}

// DecodeSegmentations decodes a segmentation head plus its prototype
// tensor into masked, quality-filtered results. The per-candidate
// layout is (4+C+32, N); protos is (32, Hp, Wp). Thresholds gate the
// boxes exactly as in detection; the quality config then prunes masks.
func DecodeSegmentations(raw, protos inference.Tensor, ts ThresholdSet, qc QualityConfig, imgW, imgH, inputSize int) ([]Segmentation, error) {
	t := raw.Squeeze()
	if err := t.Check(); err != nil {
		return nil, err
	}
	p := protos.Squeeze()
	if err := p.Check(); err != nil {
		return nil, err
	}
	if len(t.Shape) != 2 || t.Shape[0] < 4+1+maskCoeffs {
		return nil, fmt.Errorf("segmentation output shape %v, want (4+classes+%d, candidates)", t.Shape, maskCoeffs)
	}
	if len(p.Shape) != 3 || p.Shape[0] != maskCoeffs {
		return nil, fmt.Errorf("prototype shape %v, want (%d, h, w)", p.Shape, maskCoeffs)
	}
	attrs, n := t.Shape[0], t.Shape[1]
	classes := attrs - 4 - maskCoeffs
	protoH, protoW := p.Shape[1], p.Shape[2]

	cands := decodeCandidates(t, n, classes, maskCoeffs, ts.Confidence, imgW, imgH, inputSize)
	dets := make([]Detection, len(cands))
	for i, c := range cands {
		dets[i] = c.det
	}
	keep := nonMaxSuppression(dets, ts.IoU)

	// Prototype matrix: (32, Hp*Wp). Mask decode is one (1x32)·(32xHW)
	// multiply per surviving candidate.
	protoMat := mat.NewDense(maskCoeffs, protoH*protoW, toF64(p.Data))

	out := make([]Segmentation, 0, len(keep))
	for _, i := range keep {
		m := decodeMask(cands[i].coeffs, protoMat, protoH, protoW, imgW, imgH, dets[i].Box)
		seg := Segmentation{Detection: dets[i], Mask: m}
		seg.MaskArea = m.Area()
		if b, ok := m.Bounds(); ok {
			seg.MaskWidth = int(b.Width())
			seg.MaskHeight = int(b.Height())
		}
		if qc.Accept(&seg) {
			out = append(out, seg)
		}
	}
	return out, nil
}

type candidate struct {
	det    Detection
	coeffs []float64
}

// decodeCandidates applies the confidence gate and box conversion for
// all N candidates. extraRows is the number of trailing per-candidate
// rows after the class scores (mask coefficients for segmentation).
func decodeCandidates(t inference.Tensor, n, classes, extraRows int, confMin float64, imgW, imgH, inputSize int) []candidate {
	at := func(row, col int) float64 { return float64(t.Data[row*n+col]) }

	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	// Model input space is square; boxes scale to the frame geometry.
	scaleX := float64(imgW) / float64(inputSize)
	scaleY := float64(imgH) / float64(inputSize)

	var out []candidate
	for c := 0; c < n; c++ {
		bestClass, bestScore := 0, -1.0
		for k := 0; k < classes; k++ {
			s := sigmoid(at(4+k, c))
			if s > bestScore {
				bestScore, bestClass = s, k
			}
		}
		if bestScore < confMin {
			continue
		}

		cx, cy := at(0, c)*scaleX, at(1, c)*scaleY
		w, h := at(2, c)*scaleX, at(3, c)*scaleY
		box := Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}.
			Clamp(float64(imgW), float64(imgH))
		if box.Area() <= 0 {
			continue
		}

		cand := candidate{det: Detection{Box: box, Score: bestScore, Class: bestClass}}
		if extraRows > 0 {
			cand.coeffs = make([]float64, extraRows)
			for k := 0; k < extraRows; k++ {
				cand.coeffs[k] = at(4+classes+k, c)
			}
		}
		out = append(out, cand)
	}
	return out
}

// decodeMask multiplies the candidate's coefficients against the
// prototypes, binarises at 0.5 after the sigmoid, upsamples to image
// resolution and crops to the candidate's box.
func decodeMask(coeffs []float64, protos *mat.Dense, protoH, protoW, imgW, imgH int, box Box) Mask {
	var lowRes mat.Dense
	lowRes.Mul(mat.NewDense(1, maskCoeffs, coeffs), protos)

	m := NewMask(imgW, imgH)
	x1, y1 := int(box.X1), int(box.Y1)
	x2, y2 := int(box.X2), int(box.Y2)
	for y := y1; y < y2 && y < imgH; y++ {
		py := y * protoH / imgH
		for x := x1; x < x2 && x < imgW; x++ {
			px := x * protoW / imgW
			if sigmoid(lowRes.At(0, py*protoW+px)) >= 0.5 {
				m.Set(x, y)
			}
		}
	}
	return m
}

func toF64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

package adaptive

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/coupling-works/inspect.station/internal/camera"
)

// Illumination summarises the lighting conditions of one frame.
type Illumination struct {
	// Brightness is the mean luminance in [0, 255].
	Brightness float64 `json:"brightness"`
	// Contrast is the luminance standard deviation.
	Contrast float64 `json:"contrast"`
	// DynamicRange is max minus min luminance.
	DynamicRange float64 `json:"dynamic_range"`
	// Entropy is the Shannon entropy of the 256-bin luminance
	// histogram, in bits.
	Entropy float64 `json:"entropy"`
}

// Analyze computes illumination statistics for a frame.
func Analyze(f *camera.Frame) Illumination {
	luma := f.Luma()
	if len(luma) == 0 {
		return Illumination{}
	}

	mean, std := stat.MeanStdDev(luma, nil)
	if math.IsNaN(std) { // single-pixel frame
		std = 0
	}

	minV, maxV := luma[0], luma[0]
	var hist [256]float64
	for _, v := range luma {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		bin := int(v)
		if bin > 255 {
			bin = 255
		}
		hist[bin]++
	}

	n := float64(len(luma))
	entropy := 0.0
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := c / n
		entropy -= p * math.Log2(p)
	}

	return Illumination{
		Brightness:   mean,
		Contrast:     std,
		DynamicRange: maxV - minV,
		Entropy:      entropy,
	}
}

package camera

import "fmt"

// AdaptMode selects how a backend's native resolution is mapped to the
// target resolution. The decision is made once when the backend opens
// and applied uniformly to every frame of the session.
type AdaptMode int

const (
	// AdaptNone passes frames through unchanged (native == target).
	AdaptNone AdaptMode = iota
	// AdaptCrop extracts a centered target-sized window. Chosen when the
	// native resolution covers the target in both dimensions, since it
	// preserves pixel scale.
	AdaptCrop
	// AdaptResample scales the full native frame to the target size.
	// Chosen when the native resolution is smaller than the target in
	// either dimension.
	AdaptResample
)

func (m AdaptMode) String() string {
	switch m {
	case AdaptNone:
		return "none"
	case AdaptCrop:
		return "crop"
	case AdaptResample:
		return "resample"
	}
	return fmt.Sprintf("AdaptMode(%d)", int(m))
}

// AdaptPlan is the fixed per-session mapping from native frames to
// target-sized frames.
type AdaptPlan struct {
	Mode         AdaptMode
	NativeW      int
	NativeH      int
	TargetW      int
	TargetH      int
	CropX, CropY int // top-left of the centered window (crop mode)
}

// PlanAdaptation decides crop versus resample for a native resolution.
// Crop wins whenever the native frame covers the target in both
// dimensions; otherwise the frame is resampled.
func PlanAdaptation(nativeW, nativeH, targetW, targetH int) (AdaptPlan, error) {
	if nativeW <= 0 || nativeH <= 0 || targetW <= 0 || targetH <= 0 {
		return AdaptPlan{}, fmt.Errorf("invalid adaptation geometry: native %dx%d target %dx%d",
			nativeW, nativeH, targetW, targetH)
	}
	p := AdaptPlan{
		NativeW: nativeW, NativeH: nativeH,
		TargetW: targetW, TargetH: targetH,
	}
	switch {
	case nativeW == targetW && nativeH == targetH:
		p.Mode = AdaptNone
	case nativeW >= targetW && nativeH >= targetH:
		p.Mode = AdaptCrop
		p.CropX = (nativeW - targetW) / 2
		p.CropY = (nativeH - targetH) / 2
	default:
		p.Mode = AdaptResample
	}
	return p, nil
}

// Apply maps a native BGR frame through the plan, returning a
// target-sized pixel buffer. The input buffer is never aliased.
func (p AdaptPlan) Apply(pixels []byte) ([]byte, error) {
	if want := p.NativeW * p.NativeH * 3; len(pixels) != want {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, want %d for %dx%d",
			len(pixels), want, p.NativeW, p.NativeH)
	}

	switch p.Mode {
	case AdaptNone:
		out := make([]byte, len(pixels))
		copy(out, pixels)
		return out, nil

	case AdaptCrop:
		out := make([]byte, p.TargetW*p.TargetH*3)
		srcStride := p.NativeW * 3
		dstStride := p.TargetW * 3
		for row := 0; row < p.TargetH; row++ {
			srcOff := (p.CropY+row)*srcStride + p.CropX*3
			copy(out[row*dstStride:(row+1)*dstStride], pixels[srcOff:srcOff+dstStride])
		}
		return out, nil

	case AdaptResample:
		// Nearest-neighbour is sufficient here: the downstream models
		// resize to their own input geometry anyway, this stage only
		// normalises the capture resolution.
		out := make([]byte, p.TargetW*p.TargetH*3)
		for dy := 0; dy < p.TargetH; dy++ {
			sy := dy * p.NativeH / p.TargetH
			for dx := 0; dx < p.TargetW; dx++ {
				sx := dx * p.NativeW / p.TargetW
				src := (sy*p.NativeW + sx) * 3
				dst := (dy*p.TargetW + dx) * 3
				out[dst] = pixels[src]
				out[dst+1] = pixels[src+1]
				out[dst+2] = pixels[src+2]
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown adaptation mode %v", p.Mode)
}

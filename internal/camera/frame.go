package camera

import "time"

// Frame is one captured image in packed BGR byte order (row-major,
// three bytes per pixel). Seq is assigned by the frame buffer at
// publish time and is strictly increasing for the life of a Source.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Pixels     []byte
	CapturedAt time.Time
	Backend    string
}

// PixelCount returns the number of pixels the frame should carry.
func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// Luma converts the frame to per-pixel luminance using the BT.601
// weights. Used by the illumination analysis path.
func (f *Frame) Luma() []float64 {
	n := f.PixelCount()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := float64(f.Pixels[i*3])
		g := float64(f.Pixels[i*3+1])
		r := float64(f.Pixels[i*3+2])
		out[i] = 0.114*b + 0.587*g + 0.299*r
	}
	return out
}

// Clone returns a deep copy of the frame. Capture backends reuse their
// scratch buffers, so frames handed to the double buffer must own
// their pixel data.
func (f *Frame) Clone() *Frame {
	cp := *f
	cp.Pixels = make([]byte, len(f.Pixels))
	copy(cp.Pixels, f.Pixels)
	return &cp
}

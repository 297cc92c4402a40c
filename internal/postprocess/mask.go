package postprocess

// Mask is a binary pixel mask at image resolution. Bits is row-major,
// one byte per pixel, non-zero meaning foreground.
type Mask struct {
	W, H int
	Bits []uint8
}

// NewMask allocates an empty mask.
func NewMask(w, h int) Mask {
	return Mask{W: w, H: h, Bits: make([]uint8, w*h)}
}

// At reports whether pixel (x, y) is set. Out-of-range reads are
// false.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x] != 0
}

// Set marks pixel (x, y). Out-of-range writes are ignored.
func (m Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Bits[y*m.W+x] = 1
}

// Area counts foreground pixels.
func (m Mask) Area() int {
	n := 0
	for _, b := range m.Bits {
		if b != 0 {
			n++
		}
	}
	return n
}

// Bounds returns the tight bounding box of the foreground in pixel
// coordinates (x2/y2 exclusive) and false when the mask is empty.
func (m Mask) Bounds() (Box, bool) {
	minX, minY := m.W, m.H
	maxX, maxY := -1, -1
	for y := 0; y < m.H; y++ {
		row := m.Bits[y*m.W : (y+1)*m.W]
		for x, b := range row {
			if b == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return Box{}, false
	}
	return Box{X1: float64(minX), Y1: float64(minY), X2: float64(maxX + 1), Y2: float64(maxY + 1)}, true
}

// Centroid returns the mean foreground coordinate. Empty masks report
// false.
func (m Mask) Centroid() (float64, float64, bool) {
	var sx, sy, n float64
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Bits[y*m.W+x] != 0 {
				sx += float64(x)
				sy += float64(y)
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return sx / n, sy / n, true
}

// IoU computes pixel intersection over union with another mask of the
// same geometry. Mismatched geometries report 0.
func (m Mask) IoU(o Mask) float64 {
	if m.W != o.W || m.H != o.H {
		return 0
	}
	var inter, union int
	for i := range m.Bits {
		a, b := m.Bits[i] != 0, o.Bits[i] != 0
		if a && b {
			inter++
		}
		if a || b {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Clone returns a deep copy.
func (m Mask) Clone() Mask {
	cp := Mask{W: m.W, H: m.H, Bits: make([]uint8, len(m.Bits))}
	copy(cp.Bits, m.Bits)
	return cp
}

// CountIn counts foreground pixels inside a box region.
func (m Mask) CountIn(b Box) int {
	x1, y1 := int(b.X1), int(b.Y1)
	x2, y2 := int(b.X2), int(b.Y2)
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > m.W {
		x2 = m.W
	}
	if y2 > m.H {
		y2 = m.H
	}
	n := 0
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			if m.Bits[y*m.W+x] != 0 {
				n++
			}
		}
	}
	return n
}

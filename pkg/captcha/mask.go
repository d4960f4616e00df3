package captcha

// Mask is a binary pixel grid; true marks an ink pixel.
type Mask struct {
	Width  int
	Height int
	bits   []bool
}

// NewMask creates an empty mask of the given dimensions
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		bits:   make([]bool, width*height),
	}
}

// At reports whether the pixel at (x, y) is ink. Out-of-bounds
// coordinates read as background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.bits[y*m.Width+x]
}

// Set marks the pixel at (x, y)
func (m *Mask) Set(x, y int, ink bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.bits[y*m.Width+x] = ink
}

// Count returns the number of ink pixels
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Bounds returns the ink bounding box (minX, minY, maxX, maxY inclusive)
// and false when the mask holds no ink at all.
func (m *Mask) Bounds() (minX, minY, maxX, maxY int, ok bool) {
	minX, minY = m.Width, m.Height
	maxX, maxY = -1, -1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) {
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
	}
	return minX, minY, maxX, maxY, maxX >= 0
}

// Crop returns a copy of the region [x0,x1] x [y0,y1] (inclusive)
func (m *Mask) Crop(x0, y0, x1, y1 int) *Mask {
	out := NewMask(x1-x0+1, y1-y0+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			out.Set(x-x0, y-y0, m.At(x, y))
		}
	}
	return out
}

// Jaccard computes |intersection| / |union| over ink pixels of two
// equally sized masks. An empty union scores 0. The measure is
// symmetric and bounded in [0,1]; identical non-empty masks score 1.
func Jaccard(a, b *Mask) float64 {
	intersection, union := 0, 0
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			pa, pb := a.At(x, y), b.At(x, y)
			if pa && pb {
				intersection++
			}
			if pa || pb {
				union++
			}
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// medianFilter applies a 3x3 binary median filter (majority of the
// neighborhood), removing isolated speckle pixels. Pixels outside the
// mask read as background.
func medianFilter(m *Mask) *Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			ink := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if m.At(x+dx, y+dy) {
						ink++
					}
				}
			}
			out.Set(x, y, ink >= 5)
		}
	}
	return out
}

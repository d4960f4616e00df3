package captcha

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	xdraw "golang.org/x/image/draw"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
)

const (
	// Glyph bands narrower or shorter than this are treated as noise
	// rather than characters.
	minBandWidth  = 2
	minBandHeight = 6
)

// InkThresholds select the challenge's foreground color. The site
// renders codes in red ink, so a pixel is ink when red is high and the
// other channels are low.
type InkThresholds struct {
	RedMin   uint8
	GreenMax uint8
	BlueMax  uint8
}

// DefaultInkThresholds matches the observed challenge rendering
func DefaultInkThresholds() InkThresholds {
	return InkThresholds{RedMin: 100, GreenMax: 140, BlueMax: 140}
}

// GlyphMatch is the outcome of matching one segmented glyph
type GlyphMatch struct {
	// Position is the glyph's left edge in the challenge image,
	// establishing left-to-right order.
	Position   int
	Label      string
	Confidence float64
}

// SolveResult is an ordered sequence of glyph matches. Code is the
// concatenation of labels in position order.
type SolveResult struct {
	Code    string
	Matches []GlyphMatch
}

// Solver converts a challenge image into a character code using
// template matching. Output is deterministic for a fixed TemplateSet
// and image.
type Solver struct {
	set           *TemplateSet
	ink           InkThresholds
	minConfidence float64
	log           logger.Logger
}

// NewSolver creates a solver over a loaded template set
func NewSolver(set *TemplateSet, minConfidence float64, log logger.Logger) *Solver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Solver{
		set:           set,
		ink:           DefaultInkThresholds(),
		minConfidence: minConfidence,
		log:           log,
	}
}

// SetInkThresholds overrides the foreground color selection
func (s *Solver) SetInkThresholds(ink InkThresholds) {
	s.ink = ink
}

// SolveBytes decodes an encoded image and solves it
func (s *Solver) SolveBytes(data []byte) (*SolveResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeSegmentation, "cannot decode challenge image: %v", err)
	}
	return s.Solve(img)
}

// Solve runs the recognition pipeline: binarize, segment into exactly
// four glyphs, normalize each crop, and pick the best-scoring template
// label per glyph.
func (s *Solver) Solve(img image.Image) (*SolveResult, error) {
	mask := s.binarize(img)
	mask = medianFilter(mask)

	glyphs, err := segment(mask)
	if err != nil {
		return nil, err
	}

	result := &SolveResult{Matches: make([]GlyphMatch, 0, CodeLength)}
	var code strings.Builder
	for _, g := range glyphs {
		normalized := normalize(g.mask)
		label, score := s.match(normalized)
		if score < s.minConfidence {
			return nil, errs.New(errs.ErrorTypeLowConfidence,
				"glyph at x=%d matched %q with score %.3f below threshold %.3f",
				g.x, label, score, s.minConfidence)
		}
		result.Matches = append(result.Matches, GlyphMatch{
			Position:   g.x,
			Label:      label,
			Confidence: score,
		})
		code.WriteString(label)
	}
	result.Code = code.String()

	s.log.DebugWithFields("challenge solved", map[string]interface{}{
		"code":       result.Code,
		"glyphs":     len(result.Matches),
		"confidence": result.MinConfidence(),
	})
	return result, nil
}

// MinConfidence returns the weakest glyph score of the result
func (r *SolveResult) MinConfidence() float64 {
	min := 1.0
	for _, m := range r.Matches {
		if m.Confidence < min {
			min = m.Confidence
		}
	}
	if len(r.Matches) == 0 {
		return 0
	}
	return min
}

// binarize produces a boolean ink mask from the challenge image
func (s *Solver) binarize(img image.Image) *Mask {
	b := img.Bounds()
	mask := NewMask(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			ink := r8 > s.ink.RedMin && g8 < s.ink.GreenMax && b8 < s.ink.BlueMax
			mask.Set(x-b.Min.X, y-b.Min.Y, ink)
		}
	}
	return mask
}

// glyph is a cropped region believed to contain one character
type glyph struct {
	x    int // left edge in the source image
	mask *Mask
}

// segment locates contiguous ink-bearing column bands in left-to-right
// order. A challenge must yield exactly CodeLength glyphs; anything
// else means the crop is unusable and the caller should request a
// fresh challenge rather than guess.
func segment(mask *Mask) ([]glyph, error) {
	colInk := make([]int, mask.Width)
	for x := 0; x < mask.Width; x++ {
		for y := 0; y < mask.Height; y++ {
			if mask.At(x, y) {
				colInk[x]++
			}
		}
	}

	var glyphs []glyph
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		width := end - start
		if width < minBandWidth {
			start = -1
			return
		}
		band := mask.Crop(start, 0, end-1, mask.Height-1)
		minX, minY, maxX, maxY, ok := band.Bounds()
		if ok && maxY-minY+1 >= minBandHeight {
			glyphs = append(glyphs, glyph{
				x:    start,
				mask: band.Crop(minX, minY, maxX, maxY),
			})
		}
		start = -1
	}

	for x := 0; x < mask.Width; x++ {
		if colInk[x] > 0 {
			if start < 0 {
				start = x
			}
		} else {
			flush(x)
		}
	}
	flush(mask.Width)

	if len(glyphs) != CodeLength {
		return nil, errs.New(errs.ErrorTypeSegmentation,
			"segmented %d glyph bands, want %d", len(glyphs), CodeLength)
	}
	return glyphs, nil
}

// normalize scales a glyph crop to GlyphSize x GlyphSize, preserving
// aspect ratio and centering the result. Content is resized, never
// reinterpreted.
func normalize(m *Mask) *Mask {
	src := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) {
				src.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	scale := minf(float64(GlyphSize)/float64(m.Height), float64(GlyphSize)/float64(m.Width))
	newW := int(float64(m.Width) * scale)
	newH := int(float64(m.Height) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := image.NewGray(image.Rect(0, 0, newW, newH))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := NewMask(GlyphSize, GlyphSize)
	xOff := (GlyphSize - newW) / 2
	yOff := (GlyphSize - newH) / 2
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			if scaled.GrayAt(x, y).Y > 128 {
				out.Set(x+xOff, y+yOff, true)
			}
		}
	}
	return out
}

// match scans every template of every label and returns the best
// Jaccard score. Ties break toward the first stored template, keeping
// the result deterministic regardless of score equality.
func (s *Solver) match(glyphMask *Mask) (string, float64) {
	bestLabel, bestScore := "?", -1.0
	for _, t := range s.set.Templates {
		score := Jaccard(glyphMask, t.Mask)
		if score > bestScore {
			bestScore = score
			bestLabel = t.Label
		}
	}
	if bestScore < 0 {
		bestScore = 0
	}
	return bestLabel, bestScore
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

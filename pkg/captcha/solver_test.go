package captcha

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
)

const (
	shapeW = 24
	shapeH = 32
	stroke = 6
)

// makeShape builds a thick-stroked letter-like mask for synthetic challenges
func makeShape(kind string) *Mask {
	m := NewMask(shapeW, shapeH)
	bar := func(x0, y0, x1, y1 int) {
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				m.Set(x, y, true)
			}
		}
	}
	switch kind {
	case "F":
		bar(0, 0, shapeW-1, stroke-1)
		bar(0, 0, stroke-1, shapeH-1)
		bar(0, 14, 15, 19)
	case "L":
		bar(0, 0, stroke-1, shapeH-1)
		bar(0, shapeH-stroke, shapeW-1, shapeH-1)
	case "T":
		bar(0, 0, shapeW-1, stroke-1)
		bar(9, 0, 14, shapeH-1)
	case "O":
		bar(0, 0, shapeW-1, stroke-1)
		bar(0, shapeH-stroke, shapeW-1, shapeH-1)
		bar(0, 0, stroke-1, shapeH-1)
		bar(shapeW-stroke, 0, shapeW-1, shapeH-1)
	case "X": // solid block, deliberately unlike the letter shapes
		bar(0, 0, shapeW-1, shapeH-1)
	}
	return m
}

// templateFor reproduces the solver's own preprocessing so synthetic
// glyphs match their template exactly: speckle filter, bounding-box
// crop, then normalization.
func templateFor(shape *Mask) *Mask {
	const margin = 2
	padded := NewMask(shape.Width+2*margin, shape.Height+2*margin)
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			padded.Set(x+margin, y+margin, shape.At(x, y))
		}
	}
	filtered := medianFilter(padded)
	minX, minY, maxX, maxY, _ := filtered.Bounds()
	return normalize(filtered.Crop(minX, minY, maxX, maxY))
}

// renderChallenge draws shapes in red ink on white, left to right
func renderChallenge(shapes ...*Mask) image.Image {
	const gap = 12
	width := gap
	for _, s := range shapes {
		width += s.Width + gap
	}
	img := image.NewRGBA(image.Rect(0, 0, width, shapeH+16))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	xOff := gap
	for _, s := range shapes {
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				if s.At(x, y) {
					img.Set(xOff+x, 8+y, color.RGBA{200, 60, 60, 255})
				}
			}
		}
		xOff += s.Width + gap
	}
	return img
}

func letterTemplates(t *testing.T) *TemplateSet {
	t.Helper()
	set := &TemplateSet{}
	for _, label := range []string{"F", "L", "T", "O"} {
		set.Templates = append(set.Templates, Template{
			Label: label,
			Mask:  templateFor(makeShape(label)),
		})
	}
	return set
}

func TestSolveExactMatch(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.99, logger.NewNopLogger())
	img := renderChallenge(makeShape("F"), makeShape("L"), makeShape("T"), makeShape("O"))

	result, err := solver.Solve(img)
	require.NoError(t, err)
	assert.Equal(t, "FLTO", result.Code)
	require.Len(t, result.Matches, CodeLength)
	for _, m := range result.Matches {
		assert.InDelta(t, 1.0, m.Confidence, 1e-9)
	}
	// Glyph positions are strictly left to right
	for i := 1; i < len(result.Matches); i++ {
		assert.Greater(t, result.Matches[i].Position, result.Matches[i-1].Position)
	}
}

func TestSolveDeterministic(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.5, logger.NewNopLogger())
	img := renderChallenge(makeShape("O"), makeShape("T"), makeShape("L"), makeShape("F"))

	first, err := solver.Solve(img)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := solver.Solve(img)
		require.NoError(t, err)
		assert.Equal(t, first.Code, again.Code)
		assert.Equal(t, first.Matches, again.Matches)
	}
	assert.Equal(t, "OTLF", first.Code)
}

func TestSolveSegmentationErrorWrongBandCount(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.5, logger.NewNopLogger())

	tests := []struct {
		name   string
		shapes []*Mask
	}{
		{"three glyphs", []*Mask{makeShape("F"), makeShape("L"), makeShape("T")}},
		{"five glyphs", []*Mask{makeShape("F"), makeShape("L"), makeShape("T"), makeShape("O"), makeShape("F")}},
		{"blank image", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := solver.Solve(renderChallenge(tt.shapes...))
			require.Error(t, err)
			var typed *errs.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, errs.ErrorTypeSegmentation, typed.Type)
		})
	}
}

func TestSolveLowConfidence(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.95, logger.NewNopLogger())
	// The solid block is not in the template set; its best score against
	// any letter stays far below the threshold.
	img := renderChallenge(makeShape("F"), makeShape("L"), makeShape("T"), makeShape("X"))

	_, err := solver.Solve(img)
	require.Error(t, err)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeLowConfidence, typed.Type)
}

func TestSolveNeverGuessesOnMalformedImage(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.0, logger.NewNopLogger())
	// Even with the confidence gate disabled, a bad segmentation must
	// fail rather than produce a 4-character guess.
	_, err := solver.Solve(renderChallenge(makeShape("F")))
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeSegmentation, typed.Type)
}

func TestSolveBytesRejectsGarbage(t *testing.T) {
	solver := NewSolver(letterTemplates(t), 0.5, logger.NewNopLogger())
	_, err := solver.SolveBytes([]byte("definitely not an image"))
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeSegmentation, typed.Type)
}

func TestMatchTieBreakFirstStoredWins(t *testing.T) {
	shared := templateFor(makeShape("O"))
	set := &TemplateSet{Templates: []Template{
		{Label: "1", Mask: shared},
		{Label: "2", Mask: shared},
	}}
	solver := NewSolver(set, 0.5, logger.NewNopLogger())

	label, score := solver.match(shared)
	assert.Equal(t, "1", label)
	assert.Equal(t, 1.0, score)
}

func TestNormalizeIdentityForFullSizeGlyph(t *testing.T) {
	solid := NewMask(GlyphSize, GlyphSize)
	for y := 0; y < GlyphSize; y++ {
		for x := 0; x < GlyphSize; x++ {
			solid.Set(x, y, true)
		}
	}
	normalized := normalize(solid)
	assert.Equal(t, 1.0, Jaccard(solid, normalized))
}

func TestNormalizePreservesAspect(t *testing.T) {
	// A tall thin bar must stay tall and thin, centered horizontally
	bar := NewMask(4, 40)
	for y := 0; y < 40; y++ {
		for x := 0; x < 4; x++ {
			bar.Set(x, y, true)
		}
	}
	normalized := normalize(bar)
	minX, _, maxX, _, ok := normalized.Bounds()
	require.True(t, ok)
	assert.LessOrEqual(t, maxX-minX+1, 6)
	center := (minX + maxX) / 2
	assert.InDelta(t, GlyphSize/2, center, 2)
}

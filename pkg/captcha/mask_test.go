package captcha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseMask builds a mask from '#'/'.' rows; test helper
func parseMask(t *testing.T, rows []string) *Mask {
	t.Helper()
	require.NotEmpty(t, rows)
	m := NewMask(len(rows[0]), len(rows))
	for y, row := range rows {
		require.Len(t, row, m.Width)
		for x, ch := range row {
			m.Set(x, y, ch == '#')
		}
	}
	return m
}

func TestJaccardIdentity(t *testing.T) {
	m := parseMask(t, []string{
		"##..",
		"##..",
		"..##",
	})
	assert.Equal(t, 1.0, Jaccard(m, m))
}

func TestJaccardSymmetricAndBounded(t *testing.T) {
	a := parseMask(t, []string{
		"###.",
		"#...",
		"#...",
	})
	b := parseMask(t, []string{
		"###.",
		"..#.",
		"..#.",
	})

	ab := Jaccard(a, b)
	ba := Jaccard(b, a)
	assert.Equal(t, ab, ba)
	assert.GreaterOrEqual(t, ab, 0.0)
	assert.LessOrEqual(t, ab, 1.0)
	// 3 shared of 7 total ink positions
	assert.InDelta(t, 3.0/7.0, ab, 1e-9)
}

func TestJaccardEmptyUnion(t *testing.T) {
	a := NewMask(4, 4)
	b := NewMask(4, 4)
	assert.Equal(t, 0.0, Jaccard(a, b))
}

func TestJaccardDisjoint(t *testing.T) {
	a := parseMask(t, []string{"##..", "....", "...."})
	b := parseMask(t, []string{"..##", "....", "...."})
	assert.Equal(t, 0.0, Jaccard(a, b))
}

func TestBounds(t *testing.T) {
	m := parseMask(t, []string{
		".....",
		".##..",
		".#...",
		".....",
	})
	minX, minY, maxX, maxY, ok := m.Bounds()
	require.True(t, ok)
	assert.Equal(t, 1, minX)
	assert.Equal(t, 1, minY)
	assert.Equal(t, 2, maxX)
	assert.Equal(t, 2, maxY)

	_, _, _, _, ok = NewMask(3, 3).Bounds()
	assert.False(t, ok)
}

func TestCrop(t *testing.T) {
	m := parseMask(t, []string{
		"....",
		".##.",
		".#..",
	})
	c := m.Crop(1, 1, 2, 2)
	assert.Equal(t, 2, c.Width)
	assert.Equal(t, 2, c.Height)
	assert.True(t, c.At(0, 0))
	assert.True(t, c.At(1, 0))
	assert.True(t, c.At(0, 1))
	assert.False(t, c.At(1, 1))
}

func TestMedianFilterRemovesSpeckle(t *testing.T) {
	m := parseMask(t, []string{
		".....",
		"..#..",
		".....",
	})
	filtered := medianFilter(m)
	assert.Equal(t, 0, filtered.Count())
}

func TestMedianFilterKeepsSolidInterior(t *testing.T) {
	m := parseMask(t, []string{
		"#####",
		"#####",
		"#####",
		"#####",
		"#####",
	})
	filtered := medianFilter(m)
	// Interior survives; only the four corners fall below the majority
	assert.True(t, filtered.At(2, 2))
	assert.True(t, filtered.At(1, 2))
	assert.False(t, filtered.At(0, 0))
	assert.False(t, filtered.At(4, 4))
}

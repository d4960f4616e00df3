package captcha

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "stooqfetch/pkg/errors"
)

func fullRow(ch byte) string {
	row := make([]byte, GlyphSize)
	for i := range row {
		row[i] = ch
	}
	return string(row)
}

func solidTemplateMask(t *testing.T) *Mask {
	t.Helper()
	m := NewMask(GlyphSize, GlyphSize)
	for y := 0; y < GlyphSize; y++ {
		for x := 0; x < GlyphSize; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	store := NewStore(path)

	half := NewMask(GlyphSize, GlyphSize)
	for y := 0; y < GlyphSize; y++ {
		for x := 0; x < GlyphSize/2; x++ {
			half.Set(x, y, true)
		}
	}

	original := &TemplateSet{Templates: []Template{
		{Label: "A", Mask: solidTemplateMask(t)},
		{Label: "B", Mask: half},
		{Label: "A", Mask: half}, // variant of A, later insertion
	}}
	require.NoError(t, store.Save(original))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())

	// Insertion order survives serialization
	assert.Equal(t, "A", loaded.Templates[0].Label)
	assert.Equal(t, "B", loaded.Templates[1].Label)
	assert.Equal(t, "A", loaded.Templates[2].Label)
	assert.Equal(t, []string{"A", "B"}, loaded.Labels())

	assert.Equal(t, 1.0, Jaccard(original.Templates[1].Mask, loaded.Templates[1].Mask))
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	_, err := store.Load()
	requireModelCorrupt(t, err)
}

func TestStoreLoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0644))

	_, err := NewStore(path).Load()
	requireModelCorrupt(t, err)
}

func TestStoreLoadEmptyModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"glyph_size":40,"templates":[]}`), 0644))

	_, err := NewStore(path).Load()
	requireModelCorrupt(t, err)
}

func TestStoreLoadWrongGlyphSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"glyph_size":20,"templates":[{"label":"A","rows":[]}]}`), 0644))

	_, err := NewStore(path).Load()
	requireModelCorrupt(t, err)
}

func TestStoreLoadBadRows(t *testing.T) {
	rows := `["` + fullRow('#') + `"]` // 1 row instead of 40
	path := filepath.Join(t.TempDir(), "model.json")
	blob := `{"version":1,"glyph_size":40,"templates":[{"label":"A","rows":` + rows + `}]}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0644))

	_, err := NewStore(path).Load()
	requireModelCorrupt(t, err)
}

func requireModelCorrupt(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeModelCorrupt, typed.Type)
}

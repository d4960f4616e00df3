package captcha

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errs "stooqfetch/pkg/errors"
)

const (
	// GlyphSize is the edge length all templates and normalized glyph
	// crops share.
	GlyphSize = 40

	// CodeLength is the number of characters in a challenge code.
	CodeLength = 4

	modelVersion = 1
)

// Template is a labeled reference glyph mask. Immutable once loaded.
type Template struct {
	Label string
	Mask  *Mask
}

// TemplateSet is the ordered collection of templates the solver matches
// against. Order is insertion order and breaks similarity ties, so it
// must survive serialization round trips.
type TemplateSet struct {
	Templates []Template
}

// Labels returns the distinct labels in first-seen order
func (ts *TemplateSet) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range ts.Templates {
		if !seen[t.Label] {
			seen[t.Label] = true
			out = append(out, t.Label)
		}
	}
	return out
}

// Len returns the number of template variants
func (ts *TemplateSet) Len() int {
	return len(ts.Templates)
}

// modelFile is the on-disk JSON shape of a template model
type modelFile struct {
	Version   int          `json:"version"`
	GlyphSize int          `json:"glyph_size"`
	Templates []modelEntry `json:"templates"`
}

type modelEntry struct {
	Label string   `json:"label"`
	Rows  []string `json:"rows"`
}

// Store loads and saves the persisted template model. The live solve
// path only ever reads; writing is for the offline model rebuild tool.
type Store struct {
	path string
}

// NewStore creates a store reading the model blob at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load deserializes the model blob into a TemplateSet. It fails with a
// model_corrupt error when the blob is missing, unparsable, empty, or
// holds masks of the wrong size.
func (s *Store) Load() (*TemplateSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeModelCorrupt, "cannot read model %s: %v", s.path, err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, errs.New(errs.ErrorTypeModelCorrupt, "cannot parse model %s: %v", s.path, err)
	}
	if mf.GlyphSize != GlyphSize {
		return nil, errs.New(errs.ErrorTypeModelCorrupt, "model glyph size %d, want %d", mf.GlyphSize, GlyphSize)
	}
	if len(mf.Templates) == 0 {
		return nil, errs.New(errs.ErrorTypeModelCorrupt, "model %s holds no templates", s.path)
	}

	set := &TemplateSet{Templates: make([]Template, 0, len(mf.Templates))}
	for i, entry := range mf.Templates {
		if entry.Label == "" {
			return nil, errs.New(errs.ErrorTypeModelCorrupt, "template %d has no label", i)
		}
		mask, err := decodeRows(entry.Rows)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeModelCorrupt, "template %d (%q): %v", i, entry.Label, err)
		}
		set.Templates = append(set.Templates, Template{Label: entry.Label, Mask: mask})
	}
	return set, nil
}

// Save writes the template set atomically. Used by the offline
// model-rebuilding path, never from live orchestration.
func (s *Store) Save(set *TemplateSet) error {
	mf := modelFile{
		Version:   modelVersion,
		GlyphSize: GlyphSize,
		Templates: make([]modelEntry, 0, len(set.Templates)),
	}
	for _, t := range set.Templates {
		mf.Templates = append(mf.Templates, modelEntry{Label: t.Label, Rows: encodeRows(t.Mask)})
	}

	data, err := json.MarshalIndent(&mf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace model: %w", err)
	}
	return nil
}

// decodeRows parses the '#'/'.' row strings of a stored mask
func decodeRows(rows []string) (*Mask, error) {
	if len(rows) != GlyphSize {
		return nil, fmt.Errorf("mask has %d rows, want %d", len(rows), GlyphSize)
	}
	mask := NewMask(GlyphSize, GlyphSize)
	for y, row := range rows {
		if len(row) != GlyphSize {
			return nil, fmt.Errorf("row %d has %d columns, want %d", y, len(row), GlyphSize)
		}
		for x, ch := range row {
			switch ch {
			case '#':
				mask.Set(x, y, true)
			case '.':
			default:
				return nil, fmt.Errorf("row %d has invalid cell %q", y, ch)
			}
		}
	}
	return mask, nil
}

func encodeRows(mask *Mask) []string {
	rows := make([]string, mask.Height)
	var sb strings.Builder
	for y := 0; y < mask.Height; y++ {
		sb.Reset()
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		rows[y] = sb.String()
	}
	return rows
}

package settings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/stooq"
)

// fakePanel serves scripted renders and records submissions
type fakePanel struct {
	pages       []string
	renderCalls int
	submitBody  string
	submitted   []url.Values
}

func (f *fakePanel) Render(ctx context.Context, page string) ([]byte, error) {
	idx := f.renderCalls
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	f.renderCalls++
	return []byte(f.pages[idx]), nil
}

func (f *fakePanel) Submit(ctx context.Context, page string, form url.Values) (*stooq.SubmitResult, error) {
	f.submitted = append(f.submitted, form)
	return &stooq.SubmitResult{Status: http.StatusOK, Body: []byte(f.submitBody)}, nil
}

// panelFields is the full field inventory of the profile panel,
// including the extraneous d2_1 group that must stay unchecked.
var panelFields = []struct{ id, name string }{
	{"d_1", "d_1"}, {"d_3", "d_3"},
	{"h_1", "h_1"}, {"h_3", "h_3"},
	{"5_1", "5_1"}, {"5_3", "5_3"},
	{"", "d1_1"}, {"", "d3_1"}, {"", "d3_2"},
	{"", "h1_1"}, {"", "h3_1"}, {"", "h3_2"},
	{"", "51_1"}, {"", "53_1"}, {"", "53_2"},
	{"", "d2_1"},
}

// desiredFields is every field the required groups must check
var desiredFields = []string{
	"d_1", "d_3", "h_1", "h_3", "5_1", "5_3",
	"d1_1", "d3_1", "d3_2",
	"h1_1", "h3_1", "h3_2",
	"51_1", "53_1", "53_2",
}

// buildPanel renders the panel HTML with the given fields checked
func buildPanel(checked ...string) string {
	isChecked := map[string]bool{}
	for _, f := range checked {
		isChecked[f] = true
	}
	var b strings.Builder
	b.WriteString("<html><body><form>")
	for _, f := range panelFields {
		key := f.name
		if key == "" {
			key = f.id
		}
		attr := ""
		if isChecked[key] {
			attr = " checked"
		}
		fmt.Fprintf(&b, `<input type="checkbox" id=%q name=%q%s>`, f.id, f.name, attr)
	}
	b.WriteString(`<input type="submit" id="bs" value="Save"></form></body></html>`)
	return b.String()
}

func newTestConfigurator(t *testing.T, panel *fakePanel, attempts int) *Configurator {
	t.Helper()
	c, err := NewConfigurator(panel, GroupNames(), stooq.AllIntervals(), attempts, logger.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestEnsureProfileSkipsSubmitWhenConverged(t *testing.T) {
	panel := &fakePanel{pages: []string{buildPanel(desiredFields...)}}
	c := newTestConfigurator(t, panel, 3)

	updated, err := c.EnsureProfile(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, panel.submitted)
	assert.Equal(t, 1, panel.renderCalls)
}

func TestEnsureProfileSubmitsMissingFields(t *testing.T) {
	panel := &fakePanel{
		pages:      []string{buildPanel(), buildPanel(desiredFields...)},
		submitBody: "Done!",
	}
	c := newTestConfigurator(t, panel, 3)

	updated, err := c.EnsureProfile(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)

	require.Len(t, panel.submitted, 1)
	form := panel.submitted[0]
	for _, f := range desiredFields {
		assert.Equal(t, "1", form.Get(f), "field %s must be submitted", f)
	}
	assert.Empty(t, form.Get("d2_1"))
}

func TestEnsureProfileClearsExtraneousGroups(t *testing.T) {
	// d2_1 checked on the site but outside the required groups
	drifted := buildPanel(append([]string{"d2_1"}, desiredFields...)...)
	panel := &fakePanel{
		pages:      []string{drifted, buildPanel(desiredFields...)},
		submitBody: "Done!",
	}
	c := newTestConfigurator(t, panel, 3)

	updated, err := c.EnsureProfile(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)

	require.Len(t, panel.submitted, 1)
	assert.Empty(t, panel.submitted[0].Get("d2_1"))
}

func TestEnsureProfileFailsAfterAttemptBound(t *testing.T) {
	// The site never persists the update
	panel := &fakePanel{pages: []string{buildPanel()}, submitBody: "Done!"}
	c := newTestConfigurator(t, panel, 3)

	updated, err := c.EnsureProfile(context.Background())
	require.Error(t, err)
	assert.True(t, updated)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.ErrorTypeProfileUpdate, e.Type)
	assert.Len(t, panel.submitted, 3)
}

func TestEnsureProfileRetriesWhenSaveNotConfirmed(t *testing.T) {
	panel := &fakePanel{pages: []string{buildPanel()}, submitBody: "server error"}
	c := newTestConfigurator(t, panel, 2)

	_, err := c.EnsureProfile(context.Background())
	require.Error(t, err)
	assert.Len(t, panel.submitted, 2)
}

func TestNewConfiguratorRejectsUnknownGroup(t *testing.T) {
	_, err := NewConfigurator(&fakePanel{}, []string{"emerging_markets"}, stooq.AllIntervals(), 3, logger.NewNopLogger())
	require.Error(t, err)
}

func TestEnsureProfileHonorsContextCancellation(t *testing.T) {
	panel := &fakePanel{pages: []string{buildPanel()}}
	c := newTestConfigurator(t, panel, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.EnsureProfile(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, panel.renderCalls)
}

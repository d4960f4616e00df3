// Package settings converges the site-side profile that controls
// which ticker groups appear in the downloadable files for each data
// interval.
package settings

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/stooq"
)

// SettingsPage is the site-relative page carrying the profile panel
const SettingsPage = ""

// markerDone is the save confirmation the panel reports
const markerDone = "Done"

// Panel is the slice of the browser capability the configurator needs
type Panel interface {
	Render(ctx context.Context, page string) ([]byte, error)
	Submit(ctx context.Context, page string, form url.Values) (*stooq.SubmitResult, error)
}

// groupSpec describes how a ticker group maps onto the panel's field
// naming. Main categories are ids like "d_1"; sub items are names like
// "d1_1", with the five-minute prefix collapsing to "51"/"53".
type groupSpec struct {
	category string
	// all selects every sub item under the category prefix instead of
	// only the first.
	all bool
}

var groupSpecs = map[string]groupSpec{
	"world_indices": {category: "1"},
	"us_all":        {category: "3", all: true},
}

// GroupNames returns the supported ticker group names
func GroupNames() []string {
	return []string{"world_indices", "us_all"}
}

// checkbox is one parsed profile field
type checkbox struct {
	id      string
	name    string
	checked bool
}

// Configurator reads the rendered profile, diffs it against the
// required groups, and submits an update when a gap exists.
type Configurator struct {
	panel       Panel
	groups      []string
	intervals   []stooq.Interval
	maxAttempts int
	log         logger.Logger
}

// NewConfigurator creates a configurator for the given ticker groups
// and intervals.
func NewConfigurator(panel Panel, groups []string, intervals []stooq.Interval, maxAttempts int, log logger.Logger) (*Configurator, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	for _, g := range groups {
		if _, ok := groupSpecs[g]; !ok {
			return nil, errs.New(errs.ErrorTypeProfileUpdate, "unknown ticker group %q", g)
		}
	}
	return &Configurator{
		panel:       panel,
		groups:      groups,
		intervals:   intervals,
		maxAttempts: maxAttempts,
		log:         log,
	}, nil
}

// EnsureProfile converges the site profile onto the required groups.
// It returns whether an update was submitted. A profile that still
// shows a gap after the attempt bound is a profile_update failure.
func (c *Configurator) EnsureProfile(ctx context.Context) (bool, error) {
	updated := false
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		boxes, err := c.readProfile(ctx)
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("profile read failed")
			continue
		}

		if c.converged(boxes) {
			if attempt == 1 {
				c.log.Info("profile already converged")
			} else {
				c.log.Info("profile converged")
			}
			return updated, nil
		}

		form := c.desiredForm(boxes)
		c.log.InfoWithFields("submitting profile update", map[string]interface{}{
			"attempt": attempt,
			"fields":  len(form),
		})

		res, err := c.panel.Submit(ctx, SettingsPage, form)
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("profile update failed")
			continue
		}
		updated = true
		if !strings.Contains(string(res.Body), markerDone) {
			c.log.WithField("attempt", attempt).Warn("save confirmation not observed")
			continue
		}

		// Re-read to confirm the save actually landed
		boxes, err = c.readProfile(ctx)
		if err == nil && c.converged(boxes) {
			c.log.Info("profile converged")
			return updated, nil
		}
	}
	return updated, errs.New(errs.ErrorTypeProfileUpdate,
		"profile still shows a gap after %d attempts", c.maxAttempts)
}

// readProfile renders the panel and parses its checkboxes
func (c *Configurator) readProfile(ctx context.Context) ([]checkbox, error) {
	html, err := c.panel.Render(ctx, SettingsPage)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnparsable, "cannot parse profile panel: %v", err)
	}

	var boxes []checkbox
	doc.Find(`input[type="checkbox"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		name, _ := s.Attr("name")
		_, checked := s.Attr("checked")
		boxes = append(boxes, checkbox{id: id, name: name, checked: checked})
	})
	if len(boxes) == 0 {
		return nil, errs.New(errs.ErrorTypeUnparsable, "profile panel shows no fields")
	}
	return boxes, nil
}

// desired reports whether a field must be checked under the required
// groups.
func (c *Configurator) desired(cb checkbox) bool {
	for _, iv := range c.intervals {
		p := iv.Prefix()
		for _, g := range c.groups {
			spec := groupSpecs[g]
			if cb.id == p+"_"+spec.category {
				return true
			}
			sub := subPrefix(p, spec.category)
			if spec.all {
				if strings.HasPrefix(cb.name, sub+"_") {
					return true
				}
			} else if cb.name == sub+"_1" {
				return true
			}
		}
	}
	return false
}

// converged reports whether every field matches the desired state.
// Fields outside the required groups must be unchecked, matching the
// clear-then-set behavior of the profile save.
func (c *Configurator) converged(boxes []checkbox) bool {
	for _, cb := range boxes {
		if cb.checked != c.desired(cb) {
			return false
		}
	}
	return true
}

// desiredForm builds the update submission: only desired fields are
// present, which clears everything else.
func (c *Configurator) desiredForm(boxes []checkbox) url.Values {
	form := url.Values{}
	for _, cb := range boxes {
		if !c.desired(cb) {
			continue
		}
		field := cb.name
		if field == "" {
			field = cb.id
		}
		form.Set(field, "1")
	}
	return form
}

// subPrefix is the sub-item name prefix for an interval and category,
// e.g. "d3" for daily U.S. markets or "51" for five-minute indices.
func subPrefix(intervalPrefix, category string) string {
	return intervalPrefix + category
}

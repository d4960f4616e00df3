// Package session owns the persisted authentication state for the
// stooq site: cookie blobs, the session lifecycle, and the stores that
// keep cookies across process runs.
package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"stooqfetch/pkg/logger"
)

// Status describes the session lifecycle:
// NoSession -> Establishing -> Authenticated -> Expired -> Establishing
type Status string

const (
	StatusNoSession     Status = "no_session"
	StatusEstablishing  Status = "establishing"
	StatusAuthenticated Status = "authenticated"
	StatusExpired       Status = "expired"
)

// Cookie is one persisted site cookie
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// State is the persisted session blob. A loaded State is never trusted
// until a successful authenticated probe confirms it.
type State struct {
	Cookies      []Cookie  `json:"cookies"`
	Verified     bool      `json:"verified"`
	LastVerified time.Time `json:"last_verified"`
}

// criticalCookies must carry a leading-dot domain so subdomain requests
// send them too.
var criticalCookies = map[string]bool{
	"PHPSESSID": true,
	"uid":       true,
	"cookie_uu": true,
}

// NewState builds a State from response cookies, keeping only cookies
// scoped to the site domain.
func NewState(cookies []*http.Cookie, siteDomain string) *State {
	state := &State{}
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = siteDomain
		}
		if !strings.HasSuffix(strings.TrimPrefix(domain, "."), strings.TrimPrefix(siteDomain, ".")) {
			continue
		}
		if criticalCookies[c.Name] && !strings.HasPrefix(domain, ".") {
			domain = "." + domain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		state.Cookies = append(state.Cookies, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   path,
		})
	}
	return state
}

// HTTPCookies converts the persisted cookies back to request cookies
func (s *State) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}

// Manager loads, persists, and invalidates session state. It is the
// sole owner of the State; callers observe status transitions through
// it. Not safe for concurrent use: the session is singular and the
// workflow drives it from one control thread.
type Manager struct {
	store  Store
	status Status
	state  *State
	log    logger.Logger
}

// NewManager creates a session manager over a persistence backend
func NewManager(store Store, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		store:  store,
		status: StatusNoSession,
		log:    log,
	}
}

// Resume loads the persisted blob. A missing or corrupt blob is the
// expected first-run case and yields (nil, nil), never an error. A
// loaded state moves the manager to Establishing: it still needs a
// successful probe before anything may treat it as valid.
func (m *Manager) Resume() (*State, error) {
	data, err := m.store.Load()
	if err != nil {
		m.log.WithError(err).Warn("failed to load persisted session, starting fresh")
		m.status = StatusNoSession
		return nil, nil
	}
	if data == nil {
		m.status = StatusNoSession
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		m.log.WithError(err).Warn("persisted session is corrupt, starting fresh")
		m.status = StatusNoSession
		return nil, nil
	}

	// A reloaded session is never valid until re-probed
	state.Verified = false
	m.state = &state
	m.status = StatusEstablishing

	m.log.InfoWithFields("persisted session loaded", map[string]interface{}{
		"cookies":       len(state.Cookies),
		"last_verified": state.LastVerified,
	})
	return &state, nil
}

// Persist atomically overwrites the stored blob with the given state
func (m *Manager) Persist(state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := m.store.Save(data); err != nil {
		return err
	}
	m.state = state
	m.log.InfoWithFields("session persisted", map[string]interface{}{
		"cookies": len(state.Cookies),
	})
	return nil
}

// MarkEstablishing records that a fresh challenge cycle has started
func (m *Manager) MarkEstablishing() {
	m.status = StatusEstablishing
}

// MarkAuthenticated records a confirmed successful authenticated
// request, the only way a session becomes valid.
func (m *Manager) MarkAuthenticated() {
	if m.state == nil {
		m.state = &State{}
	}
	m.state.Verified = true
	m.state.LastVerified = time.Now()
	m.status = StatusAuthenticated
}

// Invalidate records an authentication rejection
func (m *Manager) Invalidate() {
	if m.state != nil {
		m.state.Verified = false
	}
	m.status = StatusExpired
	m.log.Warn("session invalidated")
}

// Clear wipes the persisted blob
func (m *Manager) Clear() error {
	m.state = nil
	m.status = StatusNoSession
	return m.store.Clear()
}

// Status returns the current lifecycle status
func (m *Manager) Status() Status {
	return m.status
}

// State returns the current state, nil when no session exists
func (m *Manager) State() *State {
	return m.state
}

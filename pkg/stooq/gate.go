package stooq

import (
	"context"
	"net/url"
	"strings"

	"stooqfetch/pkg/captcha"
	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/session"
)

const (
	// ChallengePage is the site-relative page presenting the challenge
	ChallengePage = ""

	// codeField is the form field the solved code is typed into
	codeField = "f15"

	markerAccepted = "Authorization successful!"
	markerRejected = "Incorrect code"
)

// Gate drives the challenge cycle that authorizes a session: fetch the
// challenge image, solve it, submit the code, and adopt the resulting
// browser cookies into the HTTP client once a probe confirms them.
type Gate struct {
	browser     Browser
	solver      *captcha.Solver
	client      *Client
	sessions    *session.Manager
	maxAttempts int
	log         logger.Logger
}

// NewGate creates a challenge gate
func NewGate(browser Browser, solver *captcha.Solver, client *Client, sessions *session.Manager, maxAttempts int, log logger.Logger) *Gate {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Gate{
		browser:     browser,
		solver:      solver,
		client:      client,
		sessions:    sessions,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Establish runs challenge attempts until one is accepted or the bound
// is exhausted. Every failed attempt requests a fresh challenge; the
// solver never guesses. Exhausting the bound is a terminal failure for
// the run, not a crash.
func (g *Gate) Establish(ctx context.Context) error {
	g.sessions.MarkEstablishing()

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptLog := g.log.WithField("attempt", attempt)

		img, err := g.browser.Challenge(ctx)
		if err != nil {
			lastErr = err
			attemptLog.WithError(err).Warn("failed to fetch challenge")
			continue
		}
		if img == nil {
			// No challenge shown: the context is already authorized
			attemptLog.Info("no challenge presented, adopting existing authorization")
			if err := g.adopt(ctx); err != nil {
				lastErr = err
				continue
			}
			return nil
		}

		result, err := g.solver.SolveBytes(img)
		if err != nil {
			// Segmentation and low-confidence failures mean "ask for a
			// fresh challenge", never "guess".
			lastErr = err
			attemptLog.WithError(err).Warn("challenge not solvable, requesting a fresh one")
			continue
		}

		attemptLog.InfoWithFields("submitting solved code", map[string]interface{}{
			"confidence": result.MinConfidence(),
		})

		res, err := g.browser.Submit(ctx, ChallengePage, url.Values{codeField: {result.Code}})
		if err != nil {
			lastErr = err
			attemptLog.WithError(err).Warn("code submission failed")
			continue
		}

		body := string(res.Body)
		switch {
		case strings.Contains(body, markerAccepted):
			if err := g.adopt(ctx); err != nil {
				lastErr = err
				continue
			}
			attemptLog.Info("authorization accepted")
			return nil
		case strings.Contains(body, markerRejected):
			lastErr = errs.New(errs.ErrorTypeLowConfidence, "site rejected solved code")
			attemptLog.Warn("site rejected solved code")
		default:
			lastErr = errs.New(errs.ErrorTypeUnknown, "unrecognized challenge response")
			attemptLog.Warn("unrecognized challenge response")
		}
	}

	return errs.New(errs.ErrorTypeAuthExpired,
		"challenge not passed within %d attempts: %v", g.maxAttempts, lastErr)
}

// adopt copies the browser context's cookies into the HTTP client and
// confirms them with a probe before the session is trusted.
func (g *Gate) adopt(ctx context.Context) error {
	cookies, err := g.browser.Cookies(ctx)
	if err != nil {
		return err
	}

	state := session.NewState(cookies, g.client.Domain())
	g.client.SetCookies(state.HTTPCookies())

	if err := g.client.Probe(ctx); err != nil {
		g.sessions.Invalidate()
		return err
	}

	if err := g.sessions.Persist(state); err != nil {
		return err
	}
	g.sessions.MarkAuthenticated()
	return nil
}

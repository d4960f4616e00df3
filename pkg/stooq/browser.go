package stooq

import (
	"context"
	"net/http"
	"net/url"
)

// Browser is the external page-rendering capability. The workflow
// treats it as an opaque collaborator that can render a page, submit a
// form in an authenticated context, intercept the current challenge
// image, and expose the cookies its context has accumulated.
//
// HTTPBrowser implements it over the plain site client; a driver for a
// real browser can implement the same methods.
type Browser interface {
	// Render returns the current HTML of a site-relative page
	Render(ctx context.Context, page string) ([]byte, error)

	// Submit posts form values on the given page and returns the
	// resulting page content.
	Submit(ctx context.Context, page string, form url.Values) (*SubmitResult, error)

	// Challenge fetches the current CAPTCHA image bytes. A (nil, nil)
	// return means no challenge is being presented: the context is
	// already authorized.
	Challenge(ctx context.Context) ([]byte, error)

	// Cookies returns the session cookies held by the browser context
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// SubmitResult is the outcome of a form submission
type SubmitResult struct {
	Status int
	Body   []byte
}

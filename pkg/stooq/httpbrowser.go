package stooq

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
)

// HTTPBrowser implements the Browser capability over the plain HTTP
// client. The site serves its challenge as an inline image, so no real
// browser engine is needed for the authorization cycle.
type HTTPBrowser struct {
	client *Client
	log    logger.Logger
}

// NewHTTPBrowser creates an HTTP-backed browser over the site client
func NewHTTPBrowser(client *Client, log logger.Logger) *HTTPBrowser {
	if log == nil {
		log = logger.GetLogger()
	}
	return &HTTPBrowser{client: client, log: log}
}

// Render returns the raw HTML of a site-relative page. Unlike GetBody
// it does not reject authorization markers: a challenge page is an
// unauthorized page by definition.
func (b *HTTPBrowser) Render(ctx context.Context, page string) ([]byte, error) {
	resp, err := b.client.Get(ctx, page)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, "failed to read page: %v", err)
	}
	return body, nil
}

// Submit posts form values to a site-relative page
func (b *HTTPBrowser) Submit(ctx context.Context, page string, form url.Values) (*SubmitResult, error) {
	status, body, err := b.client.Post(ctx, page, form)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Status: status, Body: body}, nil
}

// Challenge fetches the current challenge image. A page without a
// challenge image means the session is already authorized, reported as
// (nil, nil).
func (b *HTTPBrowser) Challenge(ctx context.Context) ([]byte, error) {
	body, err := b.Render(ctx, ChallengePage)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnparsable, "cannot parse challenge page: %v", err)
	}

	src := ""
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		s, ok := img.Attr("src")
		if !ok {
			return true
		}
		lower := strings.ToLower(s)
		if strings.Contains(lower, "captcha") || strings.Contains(lower, "code") {
			src = s
			return false
		}
		return true
	})
	if src == "" {
		return nil, nil
	}

	resp, err := b.client.Get(ctx, src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, "failed to read challenge image: %v", err)
	}
	return img, nil
}

// Cookies returns the client jar's current site cookies
func (b *HTTPBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return b.client.Cookies(), nil
}

package stooq

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL, "test-agent", 5*time.Second, nil, logger.NewNopLogger())
	require.NoError(t, err)
	return c
}

func errorType(t *testing.T, err error) errs.ErrorType {
	t.Helper()
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	return e.Type
}

func TestGetSendsConfiguredHeaders(t *testing.T) {
	var gotUA, gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, server.URL, gotReferer)
}

func TestGetResolvesSiteRelativeURLs(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/db/")
	resp, err := c.Get(context.Background(), "l/?g=21")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/db/l/", gotPath)
}

func TestGetMapsStatusCodesToTypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType errs.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, errs.ErrorTypeAuthExpired},
		{"forbidden", http.StatusForbidden, errs.ErrorTypeAuthExpired},
		{"rate limited", http.StatusTooManyRequests, errs.ErrorTypeServerError},
		{"server error", http.StatusInternalServerError, errs.ErrorTypeServerError},
		{"not found", http.StatusNotFound, errs.ErrorTypeTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errorType(t, err))

			var e *errs.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.status, e.Code)
		})
	}
}

func TestGetBodyRejectsAuthRejectionMarkers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please login to continue</body></html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GetBody(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeAuthExpired, errorType(t, err))
}

func TestGetBodyPassesCleanResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Date,Open,High,Low,Close\n"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	body, err := c.GetBody(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Date,Open")
}

func TestGetReturnsNetworkErrorWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.Get(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errorType(t, err))
}

func TestProbeConfirmsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>database page</html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	assert.NoError(t, c.Probe(context.Background()))
}

func TestProbeFailsOnRejectedSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Authorization required"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeAuthExpired, errorType(t, err))
}

func TestSetCookiesSeedsJar(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PHPSESSID"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	c.SetCookies([]*http.Cookie{{Name: "PHPSESSID", Value: "abc123", Path: "/"}})

	_, err := c.GetBody(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotCookie)
}

func TestParseInterval(t *testing.T) {
	for _, s := range []string{"daily", "d"} {
		got, err := ParseInterval(s)
		require.NoError(t, err)
		assert.Equal(t, IntervalDaily, got)
	}
	got, err := ParseInterval("5min")
	require.NoError(t, err)
	assert.Equal(t, IntervalFiveMin, got)

	_, err = ParseInterval("weekly")
	assert.Error(t, err)
}

func TestIntervalBitsAreDistinct(t *testing.T) {
	seen := map[int]bool{}
	for _, iv := range AllIntervals() {
		bit := iv.Bit()
		assert.False(t, seen[bit], "duplicate bit %d", bit)
		seen[bit] = true
	}
	assert.Equal(t, "_d", IntervalDaily.Suffix())
	assert.Equal(t, "h", IntervalHourly.Prefix())
}

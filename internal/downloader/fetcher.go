// Package downloader fetches data files over the authenticated client
// and writes them atomically, so any file present on disk is either
// complete or absent.
package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/retry"
	"stooqfetch/pkg/stooq"
)

// sniffSize is how much of the stream is inspected for an HTML error
// page served in place of data.
const sniffSize = 1024

// Getter is the slice of the site client the fetcher needs
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Record describes one completed (or skipped) fetch
type Record struct {
	Interval    stooq.Interval
	URL         string
	Destination string
	Size        int64
	// Skipped means the destination already held a non-empty file and
	// overwrite was off; no network request was made.
	Skipped  bool
	Duration time.Duration
}

// Fetcher downloads single files
type Fetcher struct {
	client  Getter
	retries int
	backoff retry.BackoffStrategy
	log     logger.Logger
}

// NewFetcher creates a fetcher over an authenticated client
func NewFetcher(client Getter, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{
		client:  client,
		retries: 1,
		backoff: retry.DefaultExponentialBackoff(),
		log:     log,
	}
}

// SetRetryAttempts bounds re-attempts for transient network and server
// failures. Transfer and authorization failures never retry.
func (f *Fetcher) SetRetryAttempts(n int) {
	if n > 0 {
		f.retries = n
	}
}

// Fetch downloads url into dest. With overwrite off, an existing
// non-empty destination short-circuits without any network call. The
// file lands via a temp file and rename; a failed transfer leaves
// nothing behind.
func (f *Fetcher) Fetch(ctx context.Context, interval stooq.Interval, url, dest string, overwrite bool) (*Record, error) {
	start := time.Now()
	record := &Record{Interval: interval, URL: url, Destination: dest}

	if !overwrite {
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			record.Skipped = true
			record.Size = info.Size()
			record.Duration = time.Since(start)
			f.log.InfoWithFields("file already present, skipping download", map[string]interface{}{
				"dest": dest,
				"size": info.Size(),
			})
			return record, nil
		}
	}

	size, err := retry.DoWithResult(func() (int64, error) {
		resp, err := f.client.Get(ctx, url)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return f.writeAtomic(resp, dest)
	}, &retry.Config{
		MaxAttempts: f.retries,
		Backoff:     f.backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      f.log,
	})
	if err != nil {
		return nil, err
	}

	record.Size = size
	record.Duration = time.Since(start)
	f.log.InfoWithFields("file downloaded", map[string]interface{}{
		"dest":     dest,
		"size":     size,
		"duration": record.Duration,
	})
	return record, nil
}

// writeAtomic streams the response into a temp file, verifies it, and
// renames it into place.
func (f *Fetcher) writeAtomic(resp *http.Response, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "cannot create %s: %v", dir, err)
	}

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, errs.New(errs.ErrorTypeTransfer, "truncated stream: %v", err)
	}
	head = head[:n]

	if err := sniffContent(head); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp")
	if err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "cannot create temp file: %v", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	written, err := tmp.Write(head)
	if err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "write failed: %v", err)
	}
	rest, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "truncated stream: %v", err)
	}
	size := int64(written) + rest

	if resp.ContentLength >= 0 && size != resp.ContentLength {
		return 0, errs.New(errs.ErrorTypeTransfer,
			"truncated stream: got %d of %d bytes", size, resp.ContentLength)
	}

	if err := tmp.Sync(); err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "sync failed: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "close failed: %v", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, errs.New(errs.ErrorTypeTransfer, "cannot move file into place: %v", err)
	}
	return size, nil
}

// sniffContent rejects HTML served where a data file was expected. An
// HTML body naming an authorization problem expires the session.
func sniffContent(head []byte) error {
	text := strings.ToLower(strings.TrimSpace(string(head)))
	if !strings.HasPrefix(text, "<!doctype") && !strings.HasPrefix(text, "<html") {
		return nil
	}
	for _, marker := range []string{"unauthorized", "please login", "authorization required", "access denied"} {
		if strings.Contains(text, marker) {
			return errs.New(errs.ErrorTypeAuthExpired, "download served an authorization rejection page")
		}
	}
	return errs.New(errs.ErrorTypeTransfer, "download served an HTML page, not a data file")
}

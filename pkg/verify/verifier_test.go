package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stooqfetch/pkg/logger"
)

func newTestVerifier(required, forbidden []string) *Verifier {
	return NewVerifier(required, forbidden, 5, logger.NewNopLogger())
}

// dataFile builds CSV-style content with a header and one row per
// ticker, padded to the minimum row count.
func dataFile(tickers ...string) []byte {
	var b strings.Builder
	b.WriteString("<TICKER>,<DATE>,<OPEN>,<CLOSE>\n")
	for _, t := range tickers {
		fmt.Fprintf(&b, "%s,20260116,100.0,101.5\n", t)
	}
	for i := len(tickers); i < 8; i++ {
		fmt.Fprintf(&b, "PAD%d.US,20260116,1.0,1.0\n", i)
	}
	return []byte(b.String())
}

func TestCheckPassesCompliantFile(t *testing.T) {
	v := newTestVerifier([]string{"AAPL.US"}, []string{"9823.JP"})

	outcome := v.Check(dataFile("AAPL.US", "^SPX"))
	assert.True(t, outcome.Passed)
	assert.Equal(t, 8, outcome.Rows)
}

func TestCheckFailsOnMissingRequiredTicker(t *testing.T) {
	v := newTestVerifier([]string{"AAPL.US"}, nil)

	outcome := v.Check(dataFile("^SPX", "GLD.US"))
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonMissingRequiredTicker, outcome.Reason)
	assert.Contains(t, outcome.Detail, "AAPL.US")
}

func TestCheckFailsOnForbiddenTicker(t *testing.T) {
	v := newTestVerifier([]string{"AAPL.US"}, []string{"9823.JP"})

	outcome := v.Check(dataFile("AAPL.US", "9823.JP"))
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonForbiddenTicker, outcome.Reason)
}

func TestCheckRequiresEveryRequiredTicker(t *testing.T) {
	v := newTestVerifier([]string{"AAPL.US", "^SPX", "^DJI", "GLD.US"}, nil)

	assert.True(t, v.Check(dataFile("AAPL.US", "^SPX", "^DJI", "GLD.US")).Passed)

	outcome := v.Check(dataFile("AAPL.US", "^SPX", "^DJI"))
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonMissingRequiredTicker, outcome.Reason)
	assert.Contains(t, outcome.Detail, "GLD.US")
}

func TestCheckFailsOnInsufficientRows(t *testing.T) {
	v := newTestVerifier(nil, nil)

	content := []byte("<TICKER>,<DATE>\nAAPL.US,20260116\nGLD.US,20260116\n")
	outcome := v.Check(content)
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonUnparsableFile, outcome.Reason)
	assert.Equal(t, 2, outcome.Rows)
}

func TestCheckFailsOnHTMLErrorPage(t *testing.T) {
	v := newTestVerifier(nil, nil)

	outcome := v.Check([]byte("<html><body>Session expired, AAPL.US data unavailable</body></html>"))
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonUnparsableFile, outcome.Reason)
}

func TestCheckEmptyFile(t *testing.T) {
	v := newTestVerifier(nil, nil)

	outcome := v.Check(nil)
	assert.False(t, outcome.Passed)
	assert.Equal(t, ReasonUnparsableFile, outcome.Reason)
	assert.Equal(t, 0, outcome.Rows)
}

func TestCheckFileReadsFromDisk(t *testing.T) {
	v := newTestVerifier([]string{"AAPL.US"}, nil)

	path := filepath.Join(t.TempDir(), "20260116_d.txt")
	require.NoError(t, os.WriteFile(path, dataFile("AAPL.US"), 0644))

	outcome, err := v.CheckFile(path)
	require.NoError(t, err)
	assert.True(t, outcome.Passed)

	// The file is never mutated by verification
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dataFile("AAPL.US"), content)
}

func TestCheckFileMissingFile(t *testing.T) {
	v := newTestVerifier(nil, nil)

	_, err := v.CheckFile(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

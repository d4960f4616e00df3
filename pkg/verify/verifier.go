// Package verify inspects downloaded data files for required and
// forbidden ticker presence and basic structural sanity. Verification
// never mutates a file; a failure is reported upward.
package verify

import (
	"fmt"
	"os"
	"strings"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
)

// Reason classifies a verification failure
type Reason string

const (
	ReasonMissingRequiredTicker Reason = "missing_required_ticker"
	ReasonForbiddenTicker       Reason = "unexpected_forbidden_ticker"
	ReasonUnparsableFile        Reason = "unparsable_file"
)

// Outcome is the result of checking one file
type Outcome struct {
	Passed bool
	Reason Reason
	Detail string
	// Rows is the number of data rows found, excluding the header
	Rows int
}

// Fail builds a failed outcome
func Fail(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Verifier checks file content against a ticker policy
type Verifier struct {
	required  []string
	forbidden []string
	minRows   int
	log       logger.Logger
}

// NewVerifier creates a verifier. Every required ticker must appear
// and no forbidden ticker may appear for a file to pass.
func NewVerifier(required, forbidden []string, minRows int, log logger.Logger) *Verifier {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Verifier{
		required:  required,
		forbidden: forbidden,
		minRows:   minRows,
		log:       log,
	}
}

// CheckFile reads and checks a downloaded file. The error return is
// for I/O problems only; verification failures come back as a failed
// Outcome.
func (v *Verifier) CheckFile(path string) (Outcome, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Outcome{}, errs.New(errs.ErrorTypeTransfer, "cannot read %s: %v", path, err)
	}
	outcome := v.Check(content)
	if outcome.Passed {
		v.log.InfoWithFields("file verified", map[string]interface{}{
			"path": path,
			"rows": outcome.Rows,
		})
	} else {
		v.log.WarnWithFields("file failed verification", map[string]interface{}{
			"path":   path,
			"reason": string(outcome.Reason),
			"detail": outcome.Detail,
		})
	}
	return outcome, nil
}

// Check verifies raw file content
func (v *Verifier) Check(content []byte) Outcome {
	text := string(content)

	if looksLikeHTML(text) {
		return Fail(ReasonUnparsableFile, "content is an HTML page, not a data file")
	}

	rows := countDataRows(text)
	if rows < v.minRows {
		outcome := Fail(ReasonUnparsableFile,
			fmt.Sprintf("insufficient data rows: %d found, %d required", rows, v.minRows))
		outcome.Rows = rows
		return outcome
	}

	for _, ticker := range v.forbidden {
		if strings.Contains(text, ticker) {
			return Fail(ReasonForbiddenTicker, "forbidden ticker "+ticker+" present")
		}
	}
	for _, ticker := range v.required {
		if !strings.Contains(text, ticker) {
			return Fail(ReasonMissingRequiredTicker, "required ticker "+ticker+" absent")
		}
	}

	return Outcome{Passed: true, Rows: rows}
}

// countDataRows counts non-empty lines past the header
func countDataRows(text string) int {
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines <= 1 {
		return 0
	}
	return lines - 1
}

// looksLikeHTML sniffs for an HTML error page served in place of data
func looksLikeHTML(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<head") ||
		strings.Contains(head, "<body")
}

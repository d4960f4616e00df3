// Package report records the outcome of one run: stages, per-interval
// results, and the final exit status, persisted as a JSON document for
// the cron log trail.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stooqfetch/pkg/logger"
)

const reportVersion = 1

// Run statuses
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Interval outcome statuses
const (
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeSkipped = "skipped"
)

// Stage is one step of the run
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// IntervalOutcome is the final state of one data interval
type IntervalOutcome struct {
	Interval string        `json:"interval"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	File     string        `json:"file,omitempty"`
	Size     int64         `json:"size,omitempty"`
	Rows     int           `json:"rows,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Report is the full record of one run
type Report struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	ExitCode   int               `json:"exit_code"`
	Stages     []Stage           `json:"stages"`
	Intervals  []IntervalOutcome `json:"intervals"`
	Version    int               `json:"version"`
}

// NewReport starts a report for the current run
func NewReport() *Report {
	return &Report{
		StartedAt: time.Now(),
		Version:   reportVersion,
	}
}

// AddStage records a completed step
func (r *Report) AddStage(name string, start time.Time, err error) {
	stage := Stage{Name: name, Duration: time.Since(start)}
	if err != nil {
		stage.Error = err.Error()
	}
	r.Stages = append(r.Stages, stage)
}

// AddInterval records the final outcome of one interval
func (r *Report) AddInterval(outcome IntervalOutcome) {
	r.Intervals = append(r.Intervals, outcome)
}

// Finish closes the report with the run's final status
func (r *Report) Finish(status, message string, exitCode int) {
	r.FinishedAt = time.Now()
	r.Status = status
	r.Message = message
	r.ExitCode = exitCode
}

// Writer persists reports into a directory, one file per run
type Writer struct {
	dir string
	log logger.Logger
}

// NewWriter creates a report writer rooted at dir
func NewWriter(dir string, log logger.Logger) *Writer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Writer{dir: dir, log: log}
}

// Save writes the report atomically and returns its path
func (w *Writer) Save(r *Report) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	name := fmt.Sprintf("run-%s.json", r.StartedAt.Format("20060102-150405"))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, name+".tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary report file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	w.log.InfoWithFields("run report written", map[string]interface{}{
		"path":   path,
		"status": r.Status,
	})
	return path, nil
}

// Latest loads the most recent report in the directory, or nil when
// none exists.
func (w *Writer) Latest() (*Report, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	var latest string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(w.dir, latest))
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

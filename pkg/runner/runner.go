// Package runner drives one end-to-end run: session, profile, link
// discovery, per-interval download and verification, and the final
// exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stooqfetch/internal/downloader"
	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/links"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/report"
	"stooqfetch/pkg/session"
	"stooqfetch/pkg/stooq"
	"stooqfetch/pkg/verify"
)

// Gate authorizes a fresh session through the challenge cycle
type Gate interface {
	Establish(ctx context.Context) error
}

// ProfileEnsurer converges the site-side settings profile
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context) (bool, error)
}

// LinkDiscoverer finds the current download rows
type LinkDiscoverer interface {
	Discover(ctx context.Context, intervals []stooq.Interval) (*links.Discovery, error)
}

// Options select what a run covers
type Options struct {
	// Force re-downloads files that already exist on disk
	Force bool
	// Date restricts the run to one publication date, "YYYY-MM-DD".
	// Empty means the latest available row.
	Date string
	// Intervals to fetch; nil means all
	Intervals []stooq.Interval
}

// Summary is the aggregate outcome of one run
type Summary struct {
	// Skipped means the latest row was already fully present on disk
	Skipped  bool
	Outcomes []report.IntervalOutcome
	// ExitCode encodes failed intervals as a bitmask: daily=1,
	// hourly=2, five-minute=4. Zero is full success.
	ExitCode   int
	ReportPath string
}

// Deps are the collaborators a runner drives
type Deps struct {
	Client   *stooq.Client
	Sessions *session.Manager
	Gate     Gate
	Profile  ProfileEnsurer
	Finder   LinkDiscoverer
	Fetcher  *downloader.Fetcher
	Verifier *verify.Verifier
	Reports  *report.Writer
	Logger   logger.Logger
}

// Runner orchestrates a single run
type Runner struct {
	deps        Deps
	outputDir   string
	rowFallback int
	concurrency int
	log         logger.Logger
}

// New creates a runner. rowFallback bounds how many candidate rows are
// attempted per interval when verification fails.
func New(deps Deps, outputDir string, rowFallback, concurrency int) *Runner {
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if rowFallback < 1 {
		rowFallback = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		deps:        deps,
		outputDir:   outputDir,
		rowFallback: rowFallback,
		concurrency: concurrency,
		log:         log,
	}
}

// Run executes the full sequence. The returned summary is always
// usable; the error marks terminal failures that aborted the run
// before per-interval processing finished.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	intervals := opts.Intervals
	if len(intervals) == 0 {
		intervals = stooq.AllIntervals()
	}

	rep := report.NewReport()
	summary := &Summary{}

	targetDate := ""
	if opts.Date != "" {
		parsed, err := time.Parse("2006-01-02", opts.Date)
		if err != nil {
			return r.abort(rep, summary, intervals, fmt.Errorf("invalid date %q, want YYYY-MM-DD", opts.Date))
		}
		targetDate = parsed.Format("20060102")
	}

	// Session
	start := time.Now()
	err := r.ensureSession(ctx)
	rep.AddStage("session", start, err)
	if err != nil {
		return r.abort(rep, summary, intervals, err)
	}
	if err := ctx.Err(); err != nil {
		return r.abort(rep, summary, intervals, err)
	}

	// Settings profile
	start = time.Now()
	updated, err := r.deps.Profile.EnsureProfile(ctx)
	rep.AddStage("settings", start, err)
	if err != nil {
		return r.abort(rep, summary, intervals, err)
	}
	if updated {
		r.log.Info("settings profile was updated")
	}
	if err := ctx.Err(); err != nil {
		return r.abort(rep, summary, intervals, err)
	}

	// Link discovery
	start = time.Now()
	discovery, err := r.deps.Finder.Discover(ctx, intervals)
	rep.AddStage("links", start, err)
	if err != nil {
		return r.abort(rep, summary, intervals, err)
	}

	var rows []links.Row
	if targetDate != "" {
		rows = discovery.ForDate(targetDate)
		if len(rows) == 0 {
			return r.abort(rep, summary, intervals,
				errs.New(errs.ErrorTypeLinkNotFound, "no download row for date %s", opts.Date))
		}
	} else {
		rows = discovery.Candidates(r.rowFallback)
	}

	// Early exit when the newest row is already fully on disk
	if !opts.Force && targetDate == "" && len(rows) > 0 && r.rowPresent(rows[0], intervals) {
		for _, iv := range intervals {
			outcome := report.IntervalOutcome{Interval: string(iv), Status: report.OutcomeSkipped}
			if link, err := rows[0].Link(iv); err == nil {
				outcome.File = link.Filename
			}
			rep.AddInterval(outcome)
			summary.Outcomes = append(summary.Outcomes, outcome)
		}
		summary.Skipped = true
		rep.Finish(report.StatusSkipped, "latest row already present", 0)
		summary.ReportPath = r.saveReport(rep)
		r.log.Info("latest row files already exist, nothing to do")
		return summary, nil
	}

	if err := ctx.Err(); err != nil {
		return r.abort(rep, summary, intervals, err)
	}

	// Download and verify, walking fallback rows per interval
	start = time.Now()
	outcomes, err := r.fetchAndVerify(ctx, rows, intervals, opts.Force)
	rep.AddStage("download", start, err)
	if err != nil {
		return r.abort(rep, summary, intervals, err)
	}

	exitCode := 0
	failed := 0
	for _, iv := range intervals {
		outcome := outcomes[iv]
		rep.AddInterval(outcome)
		summary.Outcomes = append(summary.Outcomes, outcome)
		if outcome.Status != report.OutcomePass {
			exitCode |= iv.Bit()
			failed++
		}
	}
	summary.ExitCode = exitCode

	status := report.StatusCompleted
	message := "all intervals verified"
	if failed > 0 {
		status = report.StatusFailed
		message = fmt.Sprintf("%d of %d intervals failed", failed, len(intervals))
	}
	rep.Finish(status, message, exitCode)
	summary.ReportPath = r.saveReport(rep)

	r.log.InfoWithFields("run finished", map[string]interface{}{
		"status":    status,
		"exit_code": exitCode,
	})
	return summary, nil
}

// ensureSession resumes the persisted session when a probe confirms
// it, and falls back to a fresh challenge cycle otherwise.
func (r *Runner) ensureSession(ctx context.Context) error {
	state, err := r.deps.Sessions.Resume()
	if err != nil {
		return err
	}
	if state != nil {
		r.deps.Client.SetCookies(state.HTTPCookies())
		if err := r.deps.Client.Probe(ctx); err == nil {
			r.deps.Sessions.MarkAuthenticated()
			r.log.Info("persisted session resumed")
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		r.deps.Sessions.Invalidate()
		r.log.Warn("persisted session rejected, establishing a fresh one")
	}
	return r.deps.Gate.Establish(ctx)
}

// rowPresent reports whether every interval file of a row already
// exists non-empty in the output directory.
func (r *Runner) rowPresent(row links.Row, intervals []stooq.Interval) bool {
	for _, iv := range intervals {
		link, err := row.Link(iv)
		if err != nil {
			return false
		}
		info, err := os.Stat(filepath.Join(r.outputDir, link.Filename))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// fetchAndVerify processes intervals in rounds, one candidate row per
// round. An interval that fails verification in one round falls back
// to the next row; an authorization rejection aborts the whole run.
func (r *Runner) fetchAndVerify(ctx context.Context, rows []links.Row, intervals []stooq.Interval, force bool) (map[stooq.Interval]report.IntervalOutcome, error) {
	outcomes := make(map[stooq.Interval]report.IntervalOutcome, len(intervals))
	lastFailure := make(map[stooq.Interval]report.IntervalOutcome, len(intervals))
	pending := make(map[stooq.Interval]bool, len(intervals))
	for _, iv := range intervals {
		pending[iv] = true
		lastFailure[iv] = report.IntervalOutcome{
			Interval: string(iv),
			Status:   report.OutcomeFail,
			Reason:   string(errs.ErrorTypeLinkNotFound),
		}
	}

	for round, row := range rows {
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var jobs []downloader.FetchJob
		for _, iv := range intervals {
			if !pending[iv] {
				continue
			}
			link, err := row.Link(iv)
			if err != nil {
				continue
			}
			jobs = append(jobs, downloader.FetchJob{
				Interval:    iv,
				URL:         link.URL,
				Destination: filepath.Join(r.outputDir, link.Filename),
				// Fallback rounds must replace whatever an earlier
				// round left behind.
				Overwrite: force || round > 0,
			})
		}
		if len(jobs) == 0 {
			continue
		}

		results, err := r.runPool(ctx, jobs)
		if err != nil {
			return nil, err
		}

		for _, res := range results {
			iv := res.Job.Interval
			if res.Err != nil {
				if isAuthExpired(res.Err) {
					r.deps.Sessions.Invalidate()
					return nil, res.Err
				}
				lastFailure[iv] = report.IntervalOutcome{
					Interval: string(iv),
					Status:   report.OutcomeFail,
					Reason:   reasonOf(res.Err),
					File:     filepath.Base(res.Job.Destination),
				}
				continue
			}

			checked, err := r.deps.Verifier.CheckFile(res.Job.Destination)
			if err != nil {
				lastFailure[iv] = report.IntervalOutcome{
					Interval: string(iv),
					Status:   report.OutcomeFail,
					Reason:   reasonOf(err),
					File:     filepath.Base(res.Job.Destination),
				}
				continue
			}
			if checked.Passed {
				outcomes[iv] = report.IntervalOutcome{
					Interval: string(iv),
					Status:   report.OutcomePass,
					File:     filepath.Base(res.Job.Destination),
					Size:     res.Record.Size,
					Rows:     checked.Rows,
					Duration: res.Duration,
				}
				delete(pending, iv)
				continue
			}

			// Failed verification: discard so no corrupt file remains
			os.Remove(res.Job.Destination)
			lastFailure[iv] = report.IntervalOutcome{
				Interval: string(iv),
				Status:   report.OutcomeFail,
				Reason:   string(checked.Reason),
				Detail:   checked.Detail,
				File:     filepath.Base(res.Job.Destination),
			}
		}
	}

	for iv := range pending {
		outcomes[iv] = lastFailure[iv]
	}
	return outcomes, nil
}

// runPool executes one round of fetch jobs with bounded parallelism
func (r *Runner) runPool(ctx context.Context, jobs []downloader.FetchJob) ([]downloader.FetchResult, error) {
	pool := downloader.NewPool(ctx, r.concurrency, r.deps.Fetcher, r.log)
	pool.Start()

	done := make(chan struct{})
	results := make([]downloader.FetchResult, 0, len(jobs))
	go func() {
		for res := range pool.Results() {
			results = append(results, res)
		}
		close(done)
	}()

	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			break
		}
	}
	pool.Stop()
	<-done

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// abort finalizes the report with every requested interval failed
func (r *Runner) abort(rep *report.Report, summary *Summary, intervals []stooq.Interval, cause error) (*Summary, error) {
	exitCode := 0
	for _, iv := range intervals {
		outcome := report.IntervalOutcome{
			Interval: string(iv),
			Status:   report.OutcomeFail,
			Reason:   reasonOf(cause),
		}
		rep.AddInterval(outcome)
		summary.Outcomes = append(summary.Outcomes, outcome)
		exitCode |= iv.Bit()
	}
	summary.ExitCode = exitCode
	rep.Finish(report.StatusFailed, cause.Error(), exitCode)
	summary.ReportPath = r.saveReport(rep)
	return summary, cause
}

// saveReport persists the run report; reporting failures are logged,
// never fatal.
func (r *Runner) saveReport(rep *report.Report) string {
	if r.deps.Reports == nil {
		return ""
	}
	path, err := r.deps.Reports.Save(rep)
	if err != nil {
		r.log.WithError(err).Warn("failed to write run report")
		return ""
	}
	return path
}

func isAuthExpired(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Type == errs.ErrorTypeAuthExpired
}

// reasonOf maps an error to a stable report reason
func reasonOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "unknown"
}

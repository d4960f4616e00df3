package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"stooqfetch/internal/downloader"
	"stooqfetch/pkg/captcha"
	"stooqfetch/pkg/links"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/ratelimit"
	"stooqfetch/pkg/report"
	"stooqfetch/pkg/runner"
	"stooqfetch/pkg/session"
	"stooqfetch/pkg/settings"
	"stooqfetch/pkg/stooq"
	"stooqfetch/pkg/verify"
)

var (
	runForce      bool
	runDate       string
	runIntervals  []string
	runOutput     string
	runConcurrent int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one fetch cycle",
	Long: `Run a single fetch cycle: resume or establish the session, converge
the settings profile, discover the current download links, fetch every
requested interval and verify the files.

The exit code encodes failed intervals as a bitmask: daily=1, hourly=2,
five-minute=4. Zero means every requested interval verified.`,
	Example: `  # Fetch the latest row of all three intervals
  stooqfetch run

  # Re-download even when the files already exist
  stooqfetch run --force

  # Fetch one specific publication date
  stooqfetch run --date 2026-01-16

  # Daily data only
  stooqfetch run --interval daily`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runForce, "force", "f", false, "re-download files that already exist")
	runCmd.Flags().StringVarP(&runDate, "date", "d", "", "target publication date, YYYY-MM-DD (default: latest row)")
	runCmd.Flags().StringSliceVar(&runIntervals, "interval", nil, "intervals to fetch: daily, hourly, five_minute (default: all)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output directory for data files")
	runCmd.Flags().IntVar(&runConcurrent, "concurrent", 0, "concurrent downloads")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	extra := map[string]interface{}{}
	if runOutput != "" {
		extra["output"] = runOutput
	}
	if runConcurrent > 0 {
		extra["concurrent"] = runConcurrent
	}
	cfg, err := loadConfig(extra)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	intervals := stooq.AllIntervals()
	if len(runIntervals) > 0 {
		intervals = intervals[:0]
		for _, name := range runIntervals {
			interval, err := stooq.ParseInterval(name)
			if err != nil {
				return err
			}
			intervals = append(intervals, interval)
		}
	}

	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute)
	client, err := stooq.NewClient(cfg.Site.BaseURL, cfg.Site.UserAgent, cfg.Site.RequestTimeout, limiter, log)
	if err != nil {
		return err
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(store, log)

	set, err := captcha.NewStore(cfg.Captcha.ModelPath).Load()
	if err != nil {
		return fmt.Errorf("cannot load recognition model: %w", err)
	}
	solver := captcha.NewSolver(set, cfg.Captcha.MinConfidence, log)

	browser := stooq.NewHTTPBrowser(client, log)
	gate := stooq.NewGate(browser, solver, client, sessions, cfg.Captcha.MaxAttempts, log)

	configurator, err := settings.NewConfigurator(browser, cfg.Settings.Groups, intervals, cfg.Settings.MaxAttempts, log)
	if err != nil {
		return err
	}

	fetcher := downloader.NewFetcher(client, log)
	fetcher.SetRetryAttempts(cfg.Download.RetryAttempts)

	r := runner.New(runner.Deps{
		Client:   client,
		Sessions: sessions,
		Gate:     gate,
		Profile:  configurator,
		Finder:   links.NewFinder(client, log),
		Fetcher:  fetcher,
		Verifier: verify.NewVerifier(cfg.Verify.RequiredTickers, cfg.Verify.ForbiddenTickers, cfg.Verify.MinRows, log),
		Reports:  report.NewWriter(filepath.Join(xdg.StateHome, "stooqfetch", "reports"), log),
		Logger:   log,
	}, cfg.Download.OutputDir, cfg.Download.RowFallback, cfg.Download.ConcurrentDownloads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := r.Run(ctx, runner.Options{
		Force:     runForce,
		Date:      runDate,
		Intervals: intervals,
	})
	if err != nil {
		log.WithError(err).Error("run aborted")
	}
	printSummary(summary)

	if summary != nil && summary.ExitCode != 0 {
		os.Exit(summary.ExitCode)
	}
	return nil
}

func printSummary(s *runner.Summary) {
	if s == nil {
		return
	}
	if s.Skipped {
		fmt.Println("Latest row already present, nothing to do.")
		return
	}
	for _, o := range s.Outcomes {
		switch o.Status {
		case report.OutcomePass:
			fmt.Printf("  %-12s pass  %s (%d rows, %d bytes)\n", o.Interval, o.File, o.Rows, o.Size)
		case report.OutcomeSkipped:
			fmt.Printf("  %-12s skipped  %s\n", o.Interval, o.File)
		default:
			reason := o.Reason
			if o.Detail != "" {
				reason = fmt.Sprintf("%s (%s)", o.Reason, o.Detail)
			}
			fmt.Printf("  %-12s FAIL  %s\n", o.Interval, reason)
		}
	}
	if s.ReportPath != "" {
		fmt.Printf("Report: %s\n", s.ReportPath)
	}
}

package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/stooq"
)

// FetchJob is a single interval file to download
type FetchJob struct {
	Interval    stooq.Interval
	URL         string
	Destination string
	Overwrite   bool
}

// FetchResult is the outcome of one job
type FetchResult struct {
	Job      FetchJob
	Record   *Record
	Err      error
	Duration time.Duration
}

// Pool runs a bounded number of fetch workers. Downloads only start
// once the session and profile are settled, so the pool is created
// late and lives for a single run.
type Pool struct {
	numWorkers  int
	jobQueue    chan FetchJob
	resultQueue chan FetchResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     *Fetcher
	logger      logger.Logger
}

// NewPool creates a fetch worker pool
func NewPool(ctx context.Context, numWorkers int, fetcher *Fetcher, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan FetchJob, numWorkers*2),
		resultQueue: make(chan FetchResult, numWorkers),
		ctx:         poolCtx,
		cancel:      cancel,
		fetcher:     fetcher,
		logger:      log,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.InfoWithFields("starting fetch pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue, waits for workers, and closes the result
// channel.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.resultQueue)
	p.cancel()
}

// Submit queues a job. It fails once the pool is shutting down.
func (p *Pool) Submit(job FetchJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("fetch pool is shutting down")
	}
}

// Results returns the channel of completed jobs
func (p *Pool) Results() <-chan FetchResult {
	return p.resultQueue
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		start := time.Now()
		record, err := p.fetcher.Fetch(p.ctx, job.Interval, job.URL, job.Destination, job.Overwrite)
		result := FetchResult{
			Job:      job,
			Record:   record,
			Err:      err,
			Duration: time.Since(start),
		}
		if err != nil {
			p.logger.ErrorWithFields("fetch failed", map[string]interface{}{
				"worker_id": id,
				"interval":  string(job.Interval),
				"url":       job.URL,
				"error":     err.Error(),
			})
		}

		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

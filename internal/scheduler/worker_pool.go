// Package scheduler runs the periodic background work: wallet resyncs,
// recurring ledger materialization, and budget checks. Cron triggers fan
// jobs out to a bounded worker pool with per-user rate limiting.
package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/portfolio-tracker/internal/retry"
)

// Job is a unit of background work. UserID scopes rate limiting so one
// user's wallet fleet cannot starve everyone else's providers.
type Job struct {
	Name   string
	UserID string
	Run    func(ctx context.Context) error
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers      int
	QueueSize    int
	PerUserRPS   float64
	PerUserBurst int
	Retry        retry.Config
}

// WorkerPool executes jobs on a fixed number of workers. Submitted jobs
// queue rather than drop; a panicking job is contained to its worker.
type WorkerPool struct {
	cfg    PoolConfig
	jobs   chan Job
	logger zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

// NewWorkerPool creates a worker pool. Call Start before submitting.
func NewWorkerPool(cfg PoolConfig, logger zerolog.Logger) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < cfg.Workers {
		cfg.QueueSize = cfg.Workers * 16
	}
	return &WorkerPool{
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
		logger:   logger.With().Str("component", "worker_pool").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a job. It blocks when the queue is full instead of
// dropping, and gives up if ctx is cancelled first.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and waits for in-flight jobs to finish. No
// Submit may race with or follow Stop.
func (p *WorkerPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job", job.Name).
				Interface("panic", r).
				Msg("job panicked")
		}
	}()

	if lim := p.limiterFor(job.UserID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	err := retry.Do(ctx, p.cfg.Retry, p.logger, func(ctx context.Context, attempt int) error {
		return job.Run(ctx)
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Str("job", job.Name).Msg("job failed")
	}
}

// limiterFor returns the per-user rate limiter, creating it on first use.
// Returns nil when rate limiting is disabled or the job has no user scope.
func (p *WorkerPool) limiterFor(userID string) *rate.Limiter {
	if p.cfg.PerUserRPS <= 0 || userID == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[userID]
	if !ok {
		burst := p.cfg.PerUserBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.cfg.PerUserRPS), burst)
		p.limiters[userID] = lim
	}
	return lim
}

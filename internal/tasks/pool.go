// Package tasks runs fire-and-forget background jobs on a bounded worker
// pool. Enqueue never blocks the caller: when the queue is full the job is
// dropped and logged.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"go.uber.org/zap"
)

// Job outcomes reported to the outcome hook.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
	OutcomeDropped = "dropped"
)

// Job is a unit of background work.
type Job struct {
	Name  string
	Scope string
	Run   func(ctx context.Context) error
}

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// DefaultConfig returns three workers, a 256-deep queue and a two minute
// job timeout.
func DefaultConfig() Config {
	return Config{Workers: 3, QueueSize: 256, JobTimeout: 2 * time.Minute}
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.WorkersConfig) Config {
	return Config{
		Workers:    c.Count,
		QueueSize:  c.QueueSize,
		JobTimeout: c.JobTimeout.Duration(),
	}
}

// Pool is a bounded worker pool.
type Pool struct {
	cfg     Config
	logger  *zap.Logger
	outcome func(job Job, outcome string)

	mu     sync.RWMutex
	closed bool
	queue  chan Job
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOutcomeHook registers fn to be called once per job with its outcome.
func WithOutcomeHook(fn func(job Job, outcome string)) Option {
	return func(p *Pool) { p.outcome = fn }
}

// New starts a pool. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Pool {
	d := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = d.JobTimeout
	}
	p := &Pool{
		cfg:     cfg,
		logger:  zap.NewNop(),
		outcome: func(Job, string) {},
		queue:   make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))
	return p
}

// Enqueue submits job without blocking. It returns false when the queue
// is full or the pool is closed.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job rejected, pool closed", zap.String("job", job.Name), zap.String("scope", job.Scope))
		p.outcome(job, OutcomeDropped)
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("job dropped, queue full",
			zap.String("job", job.Name),
			zap.String("scope", job.Scope),
			zap.Int("queue_size", p.cfg.QueueSize))
		p.outcome(job, OutcomeDropped)
		return false
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Close stops accepting jobs, runs everything already queued and waits for
// the workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	err := p.safeRun(ctx, job)
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.As(err, new(*panicError)):
		outcome = OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
	default:
		outcome = OutcomeError
	}
	p.outcome(job, outcome)

	if err != nil {
		p.logger.Error("background job failed",
			zap.String("job", job.Name),
			zap.String("scope", job.Scope),
			zap.String("operation", job.Name),
			zap.String("outcome", outcome),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.logger.Debug("background job finished",
		zap.String("job", job.Name),
		zap.String("scope", job.Scope),
		zap.Duration("duration", time.Since(start)))
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (p *Pool) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background job panicked, recovering",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = &panicError{value: r}
		}
	}()
	return job.Run(ctx)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// Source is the worker side of the scheduler.
type Source interface {
	GetJobToProcess(ctx context.Context) (*core.JobDetails, error)
	CompleteJobIteration(ctx context.Context, details *core.JobDetails) error
	IncreaseVisibilityTimeout(ctx context.Context, details *core.JobDetails, lease time.Duration) error
	Lease() time.Duration
}

// Config controls a Runner.
type Config struct {
	// Concurrency is the number of poll loops. Defaults to 1.
	Concurrency int
	// PollInterval is the sleep after an empty or failed dequeue. Defaults to 1s.
	PollInterval time.Duration
	// RatePerSec caps dequeue attempts across all loops. Zero disables the cap.
	RatePerSec int
	Logger     *slog.Logger
}

// Runner polls the scheduler and dispatches occurrences to registered handlers.
type Runner struct {
	source   Source
	registry *Registry
	cfg      Config
	limiter  *rate.Limiter
	log      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a runner. Call Start to begin polling.
func NewRunner(source Source, registry *Registry, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		source:   source,
		registry: registry,
		cfg:      cfg,
		log:      log,
		stop:     make(chan struct{}),
	}
	if cfg.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return r
}

// Start launches the poll loops. They exit when ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
	r.log.Info("worker runner started",
		"concurrency", r.cfg.Concurrency,
		"poll_interval", r.cfg.PollInterval.String(),
		"job_types", r.registry.Types(),
	)
}

// Stop signals the poll loops to exit and waits for in-flight occurrences.
// It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}

		processed, err := r.poll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("poll failed", "worker", id, "retryable", core.IsTransient(err), "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// poll makes one dequeue attempt and runs the handler. It reports whether an
// occurrence was handed to a handler.
func (r *Runner) poll(ctx context.Context) (bool, error) {
	job, err := r.source.GetJobToProcess(ctx)
	if err != nil || job == nil {
		return false, err
	}

	h, ok := r.registry.Lookup(job.JobType)
	if !ok {
		// Left leased; another runner that knows the type picks it up after the lease.
		r.log.Warn("no handler registered for job type", "job_id", job.JobID, "job_type", job.JobType)
		return false, nil
	}

	stopKeeper := r.keepLease(ctx, job)
	err = h.Execute(ctx, job)
	stopKeeper()
	if err != nil {
		r.log.Error("job handler failed; occurrence will be redelivered",
			"job_id", job.JobID,
			"job_type", job.JobType,
			"version", job.Version,
			"attempt", job.Message.DequeueCount,
			"error", err,
		)
		return true, nil
	}

	if err := r.source.CompleteJobIteration(ctx, job); err != nil {
		return true, err
	}
	return true, nil
}

// keepLease extends the job's lease every half lease until the returned func is called.
func (r *Runner) keepLease(ctx context.Context, job *core.JobDetails) func() {
	lease := r.source.Lease()
	if lease <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(lease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.source.IncreaseVisibilityTimeout(ctx, job, lease); err != nil {
					r.log.Warn("lease extension failed", "job_id", job.JobID, "error", err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/scheduler"
	"github.com/openjobspec/ojs-scheduler/internal/server"
	"github.com/openjobspec/ojs-scheduler/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process job occurrences without serving the API",
	Long: `Poll the queue and hand each occurrence of the job types in OJS_WORKER_TYPES
to a handler that logs it. Occurrences of other types are left for their lease
to expire so another worker can take them.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := server.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.WorkerTypes) == 0 {
		return errors.New("OJS_WORKER_TYPES must name at least one job type")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, sched, err := openScheduler(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	runner, err := newRunner(cfg, sched)
	if err != nil {
		return err
	}
	runner.Start(ctx)

	<-ctx.Done()
	slog.Info("stopping worker")
	runner.Stop()
	return nil
}

func newRunner(cfg server.Config, sched *scheduler.Scheduler) (*worker.Runner, error) {
	registry := worker.NewRegistry()
	for _, jobType := range cfg.WorkerTypes {
		if err := registry.Register(jobType, worker.HandlerFunc(logOccurrence)); err != nil {
			return nil, err
		}
	}
	return worker.NewRunner(sched, registry, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		RatePerSec:   cfg.PollRate,
	}), nil
}

func logOccurrence(ctx context.Context, job *core.JobDetails) error {
	slog.InfoContext(ctx, "job occurrence",
		"job_id", job.JobID,
		"job_type", job.JobType,
		"version", job.Version,
		"payload", job.Payload,
	)
	return nil
}

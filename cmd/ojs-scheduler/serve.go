package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/metrics"
	"github.com/openjobspec/ojs-scheduler/internal/scheduler"
	"github.com/openjobspec/ojs-scheduler/internal/server"
	"github.com/openjobspec/ojs-scheduler/internal/worker"
)

// healthService is the name reported by the gRPC health server.
const healthService = "ojs.scheduler.v1.Scheduler"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and gRPC health server",
	Long: `Run the producer HTTP API on OJS_PORT and a gRPC health service on OJS_GRPC_PORT.

When OJS_WORKER_TYPES names job types, the same process also runs a worker
that logs each occurrence of those types.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := server.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, sched, err := openScheduler(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var runner *worker.Runner
	if len(cfg.WorkerTypes) > 0 {
		runner, err = newRunner(cfg, sched)
		if err != nil {
			return err
		}
		runner.Start(ctx)
		defer runner.Stop()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(sched, backend.Health),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		slog.Info("OJS scheduler listening", "port", cfg.Port, "backend", backend.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
		return err
	}
	go func() {
		slog.Info("OJS gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	healthSrv.Shutdown()
	if runner != nil {
		runner.Stop()
	}
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// openScheduler connects the configured backend and builds a scheduler on it.
func openScheduler(cfg server.Config) (*server.Backend, *scheduler.Scheduler, error) {
	backend, err := server.OpenBackend(cfg, slog.Default())
	if err != nil {
		slog.Error("failed to open backend", "backend", cfg.Backend, "error", err)
		return nil, nil, err
	}

	metrics.Init(core.Version, backend.Name)

	sched, err := scheduler.New(backend.Queue, backend.Store,
		scheduler.WithLease(cfg.Lease),
		scheduler.WithAnchoredRecurrence(cfg.RecurrenceAnchored),
		scheduler.WithEventPublisher(backend.Events),
	)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return backend, sched, nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	natsbackend "github.com/openjobspec/ojs-scheduler/internal/nats"
	"github.com/openjobspec/ojs-scheduler/internal/server"
)

var (
	eventsTypeFlag string
	eventsJobFlag  string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream job events published over NATS",
	Long: `Print job events as JSON lines until interrupted. Without flags every event
is printed; --type narrows to one job type and --job to one job.

Events are only published by the NATS backend.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTypeFlag, "type", "", "Only events of this job type")
	eventsCmd.Flags().StringVar(&eventsJobFlag, "job", "", "Only events of this job id")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg := server.LoadConfig()
	if cfg.Backend != server.BackendNATS {
		return fmt.Errorf("events require the %s backend, configured backend is %q", server.BackendNATS, cfg.Backend)
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("ojs-scheduler-events"))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	broker := natsbackend.NewPubSubBroker(nc)
	defer broker.Close()

	stream, err := subscribeEvents(broker, eventsTypeFlag, eventsJobFlag)
	if err != nil {
		return err
	}
	defer stream.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.C:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				slog.Warn("failed to write event", "job_id", ev.JobID, "error", err)
			}
		}
	}
}

func subscribeEvents(broker *natsbackend.PubSubBroker, jobType, jobID string) (*natsbackend.EventStream, error) {
	switch {
	case jobType != "" && jobID != "":
		return nil, errors.New("--type and --job are mutually exclusive")
	case jobID != "":
		return broker.SubscribeJob(jobID)
	case jobType != "":
		return broker.SubscribeType(jobType)
	}
	return broker.SubscribeAll()
}

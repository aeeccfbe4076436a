package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "ojs-scheduler",
	Short: "Recurring job scheduler over a delay queue and a record store",
	Long: `ojs-scheduler keeps recurring jobs in a record store and drives each
occurrence through a delay queue.

Configuration is read from OJS_* environment variables.

Examples:
  ojs-scheduler serve                    # HTTP API, gRPC health, optional workers
  OJS_BACKEND=sqlite ojs-scheduler serve # single node, no NATS
  ojs-scheduler worker                   # process occurrences only
  ojs-scheduler events --type a.b        # stream job events (NATS)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevelFlag)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevelFlag, err)
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scheduler version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), core.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

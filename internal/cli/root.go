// Package cli defines the medic command tree.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medic-ops/medic/internal/adminclient"
	"github.com/medic-ops/medic/internal/app"
	"github.com/medic-ops/medic/internal/config"
	"github.com/medic-ops/medic/internal/tui"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "medic",
		Short: "Medic monitors service heartbeats and runs automated remediation",
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newDashboardCommand(logger))
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor, the remediation engine and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newDashboardCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Run the terminal dashboard against a medic server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			apiURL := strings.TrimSpace(os.Getenv("MEDIC_API_URL"))
			if apiURL == "" {
				apiURL = cfg.BaseURL
			}
			client := adminclient.New(apiURL, strings.TrimSpace(os.Getenv("MEDIC_API_KEY")), 30*time.Second)
			return tui.Run(client, logger)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

// LogLevel maps the LOG_LEVEL environment value to a slog level; unknown
// values fall back to info.
func LogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

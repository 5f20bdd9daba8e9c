package main

import (
	"log/slog"
	"os"

	"github.com/medic-ops/medic/internal/cli"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cli.LogLevel(os.Getenv("LOG_LEVEL")),
	}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

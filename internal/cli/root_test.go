package cli

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := NewRoot(logger)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestLogLevelMapping(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := LogLevel(input); got != want {
			t.Fatalf("LogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

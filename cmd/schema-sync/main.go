// Package main is the entry point for the schema-sync binary.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/eavops/schema-sync/cmd/schema-sync/app"
	"github.com/eavops/schema-sync/internal/config"
)

// getLogLevel parses SCHEMA_SYNC_LOG_LEVEL. Defaults to info when unset or
// invalid.
func getLogLevel() slog.Level {
	levelStr := os.Getenv(config.EnvPrefix + "_LOG_LEVEL")

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid log level, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

func main() {
	// Log to stderr so stdout carries only the outcome line and command
	// output (e.g. version --format json).
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: getLogLevel()})
	slog.SetDefault(slog.New(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

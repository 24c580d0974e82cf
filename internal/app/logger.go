package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production always emits JSON for log
// aggregation; development defaults to text with source locations.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg.IsProduction() || (cfg != nil && cfg.LogFormat == "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}

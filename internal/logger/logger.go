// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/vaultline/cashops/internal/config"
)

// New returns a configured zerolog.Logger writing to stderr: console
// output in development and JSON lines otherwise. The level is
// cfg.LogLevel when it parses; otherwise debug in development and info
// elsewhere.
func New(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr)
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	return logger.With().Timestamp().Logger()
}

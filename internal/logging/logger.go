package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/config"
)

// NewLogger creates a structured zerolog.Logger on stdout tagged with the
// service name and the provider it deploys to.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Policy.BaseDomain != "" {
		ctx = ctx.Str("base_domain", cfg.Policy.BaseDomain)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}

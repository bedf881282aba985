// Package config loads the runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// InMemory runs everything on the in-memory store instead of NATS.
	InMemory bool `env:"IN_MEMORY" envDefault:"false"`

	NATSURL       string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	StreamName    string `env:"ES_STREAM" envDefault:"USERSTREAM_ES"`
	SubjectPrefix string `env:"ES_SUBJECT_PREFIX" envDefault:"userstream.es"`

	// SnapshotBucket holds aggregate snapshots and consumer checkpoints.
	SnapshotBucket string `env:"SNAPSHOT_BUCKET" envDefault:"userstream_snapshots"`

	// MetricsAddr serves Prometheus metrics; empty disables the endpoint.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`

	// ConflictRetries is how often a lost optimistic-concurrency race is
	// re-validated before surfacing to the caller.
	ConflictRetries int `env:"CONFLICT_RETRIES" envDefault:"2"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

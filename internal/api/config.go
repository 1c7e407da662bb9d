// Package api serves the idconsensus HTTP interface.
package api

import (
	"time"

	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
)

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "1M"

	// retryAfterSeconds is sent with 503 responses caused by taxonomy lookups.
	retryAfterSeconds = "5"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string

	// Metrics exposes GET /metrics when a Metrics option is also given.
	Metrics bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		Metrics:         true,
	}
}

// ConfigFromSettings overlays the webserver settings on DefaultConfig.
func ConfigFromSettings(ws *conf.WebServerSettings) *Config {
	cfg := DefaultConfig()
	if ws == nil {
		return cfg
	}
	if ws.Listen != "" {
		cfg.Listen = ws.Listen
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	cfg.Metrics = ws.Metrics
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.ValidationError("webserver listen address is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.ValidationError("shutdown timeout must be positive")
	}
	return nil
}

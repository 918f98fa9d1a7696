// Package api provides the HTTP server for ForestWatch.
package api

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/logger"
)

var (
	apiLogger logger.Logger
	initOnce  sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		apiLogger = logger.Global().Module("api")
	})
	return apiLogger
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "64K"
	DefaultMapboxToken     = "YOUR_MAPBOX_TOKEN"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit   string // e.g. "64K", "1M"
	MapboxToken string // injected into the index page

	Debug    bool
	LogLevel logger.LogLevel
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            5000,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		MapboxToken:     DefaultMapboxToken,
		LogLevel:        logger.LogLevelInfo,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := settings.WebServer

	cfg.Host = ws.Host
	cfg.Port = ws.Port
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if ws.MapboxToken != "" {
		cfg.MapboxToken = ws.MapboxToken
	}

	cfg.Debug = settings.Debug
	if cfg.Debug {
		cfg.LogLevel = logger.LogLevelDebug
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Address returns the address the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, body_limit=%s, debug=%v",
		c.Address(), c.BodyLimit, c.Debug)
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/pitchside/go/internal/dbconfig"
	"github.com/mcdev12/pitchside/go/internal/match/archive"
	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/entry"
	"github.com/mcdev12/pitchside/go/internal/match/gateway"
	"github.com/mcdev12/pitchside/go/internal/match/publish"
	"github.com/mcdev12/pitchside/go/internal/match/repository"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"gopkg.in/yaml.v3"
)

// Config is the YAML rules file. Zero values fall back to component defaults.
type Config struct {
	Match struct {
		TickInterval       time.Duration `yaml:"tick_interval"`
		MinuteTolerance    *int          `yaml:"minute_tolerance"`
		MaxDescription     int           `yaml:"max_description"`
		RequireSession     *bool         `yaml:"require_session"`
		SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
		ArchiveAfter       time.Duration `yaml:"archive_after"`
	} `yaml:"match"`

	Gateway struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		SendBufferSize int           `yaml:"send_buffer_size"`
		MaxChatLength  int           `yaml:"max_chat_length"`
	} `yaml:"gateway"`

	Publish struct {
		QueueSize  int           `yaml:"queue_size"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"publish"`

	Database dbconfig.Config `yaml:"database"`

	Fixtures []repository.FixtureSpec `yaml:"fixtures"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads path. A missing file yields an empty config.
func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// databaseConfig layers DB_* variables over the database section.
func (c *Config) databaseConfig() dbconfig.Config {
	return c.Database.WithDefaults().WithEnv()
}

func (c *Config) clockConfig() clock.Config {
	cfg := clock.DefaultConfig()
	if c.Match.TickInterval > 0 {
		cfg.TickInterval = c.Match.TickInterval
	}
	return cfg
}

func (c *Config) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.Match.SessionIdleTimeout > 0 {
		cfg.IdleTimeout = c.Match.SessionIdleTimeout
	}
	return cfg
}

func (c *Config) entryConfig() entry.Config {
	cfg := entry.DefaultConfig()
	if c.Match.MinuteTolerance != nil {
		cfg.MinuteTolerance = *c.Match.MinuteTolerance
	}
	if c.Match.MaxDescription > 0 {
		cfg.MaxDescription = c.Match.MaxDescription
	}
	if c.Match.RequireSession != nil {
		cfg.RequireSession = *c.Match.RequireSession
	}
	return cfg
}

func (c *Config) archiveConfig() archive.Config {
	cfg := archive.DefaultConfig()
	if c.Match.ArchiveAfter > 0 {
		cfg.ArchiveAfter = c.Match.ArchiveAfter
	}
	return cfg
}

func (c *Config) gatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	if c.Gateway.PingInterval > 0 {
		cfg.ConnectionConfig.PingInterval = c.Gateway.PingInterval
	}
	if c.Gateway.ReadTimeout > 0 {
		cfg.ConnectionConfig.ReadTimeout = c.Gateway.ReadTimeout
	}
	if c.Gateway.WriteTimeout > 0 {
		cfg.ConnectionConfig.WriteTimeout = c.Gateway.WriteTimeout
	}
	if c.Gateway.SendBufferSize > 0 {
		cfg.ConnectionConfig.SendBufferSize = c.Gateway.SendBufferSize
	}
	if c.Gateway.RequestTimeout > 0 {
		cfg.HandlerConfig.RequestTimeout = c.Gateway.RequestTimeout
	}
	if c.Gateway.MaxChatLength > 0 {
		cfg.HandlerConfig.MaxChatLength = c.Gateway.MaxChatLength
	}
	return cfg
}

func (c *Config) publishConfig() publish.Config {
	cfg := publish.DefaultConfig()
	if c.Publish.QueueSize > 0 {
		cfg.QueueSize = c.Publish.QueueSize
	}
	if c.Publish.MaxRetries > 0 {
		cfg.MaxRetries = c.Publish.MaxRetries
	}
	if c.Publish.RetryDelay > 0 {
		cfg.RetryDelay = c.Publish.RetryDelay
	}
	return cfg
}

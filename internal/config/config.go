// Package config provides configuration loading for analystd.
//
// Configuration is read from a YAML file, then overridden by environment
// variables, with hardcoded defaults filling any remaining gaps.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/insightrow/analystd/internal/completion"
	"github.com/insightrow/analystd/internal/contextwindow"
	"github.com/insightrow/analystd/internal/domain"
	"github.com/insightrow/analystd/internal/logging"
	"github.com/insightrow/analystd/internal/pipeline"
	"github.com/insightrow/analystd/internal/sandbox"
)

// Config holds the complete analystd configuration.
type Config struct {
	Server        ServerConfig         `koanf:"server"`
	Logging       logging.Config       `koanf:"logging"`
	Completion    CompletionConfig     `koanf:"completion"`
	ContextWindow contextwindow.Config `koanf:"context_window"`
	Sandbox       sandbox.Config       `koanf:"sandbox"`
	Domain        domain.Config        `koanf:"domain"`
	Pipeline      pipeline.Config      `koanf:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// CompletionConfig holds completion provider configuration. The API key is
// a Secret so accidental serialization never leaks it.
type CompletionConfig struct {
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// ClientConfig converts to the completion package's config type.
func (c CompletionConfig) ClientConfig() completion.Config {
	return completion.Config{
		Model:   c.Model,
		APIKey:  c.APIKey.Value(),
		BaseURL: c.BaseURL,
		Timeout: c.TimeoutSeconds,
	}
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logging.NewDefaultConfig().Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logging.NewDefaultConfig().Format
	}

	if cfg.Completion.Model == "" {
		cfg.Completion.Model = contextwindow.DefaultModel
	}
	if cfg.Completion.TimeoutSeconds == 0 {
		cfg.Completion.TimeoutSeconds = 60
	}

	if cfg.ContextWindow.Model == "" {
		cfg.ContextWindow.Model = cfg.Completion.Model
	}
	if cfg.ContextWindow.MaxTokens == 0 {
		cfg.ContextWindow.MaxTokens = contextwindow.DefaultMaxTokens
	}

	if cfg.Sandbox.OutputDir == "" {
		cfg.Sandbox.OutputDir = "output"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = int(sandbox.DefaultTimeout / time.Second)
	}

	if cfg.Domain.MetadataDir == "" {
		cfg.Domain.MetadataDir = "metadata"
	}
	if cfg.Domain.DataDir == "" {
		cfg.Domain.DataDir = "data"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.Completion.TimeoutSeconds <= 0 {
		return errors.New("completion timeout must be positive")
	}
	if c.ContextWindow.MaxTokens <= 0 {
		return errors.New("context window budget must be positive")
	}
	if c.Sandbox.Timeout <= 0 {
		return errors.New("sandbox timeout must be positive")
	}
	if c.Domain.MetadataDir == "" {
		return errors.New("domain metadata directory required")
	}
	if c.Domain.DataDir == "" {
		return errors.New("domain data directory required")
	}

	return nil
}

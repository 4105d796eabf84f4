// Package config provides configuration loading and management for the
// knowledge server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/knowhook/knowhook-server/internal/sources"
)

// EnvPrefix is the prefix for environment variables read by the server.
const EnvPrefix = "KNOWHOOK"

const (
	// DefaultAddress is the default HTTP listen address.
	DefaultAddress = ":8080"

	// DefaultStorePath is the default location of the durable source document.
	DefaultStorePath = "./data/sources.json"

	// DefaultDispatchTimeout is the default per-source request timeout.
	DefaultDispatchTimeout = 30 * time.Second

	// DefaultAPIKeyHeader is the default header carrying a source API key.
	DefaultAPIKeyHeader = "X-API-Key"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Address is the HTTP listen address. Defaults to DefaultAddress.
	Address string `yaml:"address,omitempty"`

	// Store configures the durable source document.
	Store StoreConfig `yaml:"store,omitempty"`

	// Bootstrap optionally names an external source document loaded once at
	// startup, after the durable store.
	Bootstrap *BootstrapConfig `yaml:"bootstrap,omitempty"`

	// Dispatch configures outbound query dispatch.
	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`
}

// StoreConfig defines durable store settings
type StoreConfig struct {
	// Path is the location of the JSON document holding registered sources.
	Path string `yaml:"path"`
}

// BootstrapConfig defines the optional bulk-load input document
type BootstrapConfig struct {
	// Path is the location of the JSON document to bulk-load at startup.
	Path string `yaml:"path"`
}

// DispatchConfig defines outbound dispatch settings
type DispatchConfig struct {
	// Timeout is the per-source request timeout (e.g. "30s").
	// Applied identically to every dispatched request.
	Timeout string `yaml:"timeout,omitempty"`

	// APIKeyHeader is the header name carrying a source API key.
	APIKeyHeader string `yaml:"apiKeyHeader,omitempty"`

	// DefaultFlavor is the protocol flavor assumed for sources registered
	// without one ("generic" or "n8n").
	DefaultFlavor string `yaml:"defaultFlavor,omitempty"`
}

// Default returns a configuration populated with built-in defaults. Used
// when the server starts without a configuration file.
func Default() *Config {
	return &Config{
		Address: DefaultAddress,
		Store:   StoreConfig{Path: DefaultStorePath},
	}
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAddress returns the listen address, using the default if not specified.
func (c *Config) GetAddress() string {
	if c.Address == "" {
		return DefaultAddress
	}
	return c.Address
}

// GetStorePath returns the durable store path, using the default if not
// specified.
func (c *Config) GetStorePath() string {
	if c.Store.Path == "" {
		return DefaultStorePath
	}
	return c.Store.Path
}

// GetDispatchTimeout returns the parsed per-source request timeout, using
// the default if not specified.
func (c *Config) GetDispatchTimeout() time.Duration {
	if c.Dispatch.Timeout == "" {
		return DefaultDispatchTimeout
	}
	d, err := time.ParseDuration(c.Dispatch.Timeout)
	if err != nil {
		// validate() rejects unparsable durations; a zero-value Config
		// constructed without LoadConfig falls back to the default.
		return DefaultDispatchTimeout
	}
	return d
}

// GetAPIKeyHeader returns the API key header name, using the default if not
// specified.
func (c *Config) GetAPIKeyHeader() string {
	if c.Dispatch.APIKeyHeader == "" {
		return DefaultAPIKeyHeader
	}
	return c.Dispatch.APIKeyHeader
}

// GetDefaultFlavor returns the default source flavor.
func (c *Config) GetDefaultFlavor() sources.Flavor {
	return sources.Flavor(c.Dispatch.DefaultFlavor).Normalize()
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Dispatch.Timeout != "" {
		if _, err := time.ParseDuration(c.Dispatch.Timeout); err != nil {
			return fmt.Errorf("dispatch.timeout must be a valid duration (e.g. '30s', '1m'): %w", err)
		}
	}

	if !sources.Flavor(c.Dispatch.DefaultFlavor).Valid() {
		return fmt.Errorf("dispatch.defaultFlavor must be one of %q, %q, got %q",
			sources.FlavorGeneric, sources.FlavorN8N, c.Dispatch.DefaultFlavor)
	}

	if c.Bootstrap != nil && c.Bootstrap.Path == "" {
		return fmt.Errorf("bootstrap.path is required when bootstrap is set")
	}

	return nil
}

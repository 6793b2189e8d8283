package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/oncrpc/pkg/server"
)

// Config represents the complete configuration shared by the oncrpc
// commands.
//
// This structure captures:
//   - Logging configuration
//   - The Prometheus metrics endpoint
//   - The RPC server settings used by program servers (rpcecho)
//   - The port mapper daemon (portmapd) and its registry store
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ONCRPC_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each registry store defines its own configuration type. The store section
// carries one map per store type and only the map matching the selected type
// is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server configures RPC program servers. Uses server.Config directly.
	Server server.Config `mapstructure:"server" yaml:"server"`

	// Portmap configures the port mapper daemon
	Portmap PortmapConfig `mapstructure:"portmap" yaml:"portmap"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host to bind. Empty binds every interface.
	Host string `mapstructure:"host" yaml:"host"`

	// Port of the HTTP endpoint
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`
}

// PortmapConfig configures the port mapper daemon.
type PortmapConfig struct {
	// Host to bind. Empty binds every interface.
	Host string `mapstructure:"host" yaml:"host"`

	// Port served on every protocol. 111 is the well-known port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// Protocols to serve
	// Valid values: tcp, udp
	Protocols []string `mapstructure:"protocols" validate:"required,min=1,unique,dive,oneof=tcp udp" yaml:"protocols"`

	// LoopbackOnlyUpdates refuses SET and UNSET from remote callers
	LoopbackOnlyUpdates bool `mapstructure:"loopback_only_updates" yaml:"loopback_only_updates"`

	// CallItTimeout bounds a relayed CALLIT
	CallItTimeout time.Duration `mapstructure:"callit_timeout" validate:"min=0" yaml:"callit_timeout"`

	// MaxConnections limits concurrent TCP connections (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// IdleTimeout closes TCP connections idle for this long
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// RateLimit throttles callers by IP address
	RateLimit server.RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Store selects where mappings are kept
	Store StoreConfig `mapstructure:"store" yaml:"store"`
}

// StoreConfig specifies the port mapper registry store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which registry store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration (see badger.Config)
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ONCRPC_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the ONCRPC_ prefix and underscores
	// Example: ONCRPC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("ONCRPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows, so bind every
	// leaf of Config explicitly for runs without a config file.
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/oncrpc/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			bindEnvKeys(v, field.Type, key)
			continue
		}
		if field.Type.Kind() == reflect.Map {
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist yet runs on defaults
			return nil
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "oncrpc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "oncrpc")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

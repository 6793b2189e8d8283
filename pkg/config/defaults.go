package config

import (
	"strings"
	"time"

	"github.com/marmos91/oncrpc/pkg/portmap"
	"github.com/marmos91/oncrpc/pkg/portmap/xdr"
	"github.com/marmos91/oncrpc/pkg/server"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Server.ApplyDefaults()
	applyPortmapDefaults(&cfg.Portmap)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyPortmapDefaults sets port mapper defaults.
func applyPortmapDefaults(cfg *PortmapConfig) {
	if cfg.Port == 0 {
		cfg.Port = xdr.Port
	}
	if len(cfg.Protocols) == 0 {
		cfg.Protocols = []string{server.ProtocolTCP, server.ProtocolUDP}
	}
	for i, p := range cfg.Protocols {
		cfg.Protocols[i] = strings.ToLower(p)
	}
	if cfg.CallItTimeout == 0 {
		cfg.CallItTimeout = portmap.DefaultCallItTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond * 2
	}

	applyStoreDefaults(&cfg.Store)
}

// applyStoreDefaults sets registry store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Filled for every type so that generated config files show the option
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/oncrpc/portmap"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration parameters for an RPC server.
//
// Default values (applied by the constructors if zero):
//   - Protocol: "tcp"
//   - Host: "" (all interfaces)
//   - Port: 0 (ephemeral port chosen by the kernel)
//   - PortmapAddr: "127.0.0.1:111"
//   - MaxConnections: 0 (unlimited)
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MaxRecordSize: 4 MiB
//   - MetricsLogInterval: 5m (0 disables)
type Config struct {
	// Protocol selects the transport: "tcp" or "udp".
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=tcp udp" yaml:"protocol"`

	// Host is the address to bind. Empty binds every interface.
	Host string `mapstructure:"host" yaml:"host"`

	// Port to listen on. 0 lets the kernel pick one; Port() reports it.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// Register announces the server to the port mapper at startup and
	// withdraws it at shutdown.
	Register bool `mapstructure:"register" yaml:"register"`

	// PortmapAddr is the host:port of the port mapper used by Register.
	PortmapAddr string `mapstructure:"portmap_addr" yaml:"portmap_addr"`

	// MaxConnections limits concurrent TCP connections. When reached, new
	// connections wait until existing ones close. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// ReadTimeout bounds reading one record once its first byte arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout"`

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`

	// IdleTimeout closes a TCP connection with no call for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// ShutdownTimeout is how long Stop waits for active connections before
	// closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MaxRecordSize bounds an incoming record (TCP) or datagram (UDP).
	MaxRecordSize int `mapstructure:"max_record_size" validate:"min=0" yaml:"max_record_size"`

	// RateLimit throttles calls per peer address. Calls over the limit are
	// answered with SYSTEM_ERR.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// MetricsLogInterval is the interval at which the connection count is
	// logged. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

// RateLimitConfig configures per-peer call throttling.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per peer. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of calls a peer may make at once.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"

	DefaultPortmapAddr   = "127.0.0.1:111"
	DefaultMaxRecordSize = 4 << 20

	// maxDatagramSize is the largest UDP payload.
	maxDatagramSize = 65535
)

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	c.Protocol = strings.ToLower(c.Protocol)
	if c.Protocol == "" {
		c.Protocol = ProtocolTCP
	}
	if c.PortmapAddr == "" {
		c.PortmapAddr = DefaultPortmapAddr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond * 2
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Protocol != ProtocolTCP && c.Protocol != ProtocolUDP {
		return fmt.Errorf("invalid protocol %q: must be tcp or udp", c.Protocol)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MaxRecordSize < 0 {
		return fmt.Errorf("invalid MaxRecordSize %d: must be >= 0", c.MaxRecordSize)
	}
	if c.Register {
		if _, _, err := net.SplitHostPort(c.PortmapAddr); err != nil {
			return fmt.Errorf("invalid PortmapAddr %q: %w", c.PortmapAddr, err)
		}
	}
	return nil
}

// listenAddr returns the host:port to bind.
func (c *Config) listenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

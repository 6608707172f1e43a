// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RelayConfig holds the stream and datagram transport settings.
type RelayConfig struct {
	// Host is the bind address shared by both transports.
	Host string `mapstructure:"host"`
	// Port is the stream (TCP) port. The datagram (UDP) socket binds Port+1.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds each stream read; 0 waits indefinitely.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds each write to a session.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxFrameSize is the read buffer size; one read yields one frame.
	MaxFrameSize int `mapstructure:"max_frame_size"`
	// InvalidFrameLimit is the number of unrecognized frames after which a
	// session is forcibly disconnected.
	InvalidFrameLimit int `mapstructure:"invalid_frame_limit"`
	// BroadcastConcurrency caps concurrent sends per broadcast.
	BroadcastConcurrency int `mapstructure:"broadcast_concurrency"`
}

// StreamAddr returns the "host:port" TCP listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RelayConfig) StreamAddr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// DatagramAddr returns the "host:port+1" UDP listen address. A zero Port
// yields an ephemeral datagram port as well.
func (r RelayConfig) DatagramAddr() string {
	port := r.Port + 1
	if r.Port == 0 {
		port = 0
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// IDRangeConfig is a half-open identifier interval [Min, Max).
type IDRangeConfig struct {
	Min int `mapstructure:"id_min"`
	Max int `mapstructure:"id_max"`
}

// RoomsConfig holds room id generation settings.
type RoomsConfig struct {
	IDRangeConfig `mapstructure:",squash"`
	// CollisionWindow is how long issued room ids are remembered to report
	// reuse; 0 disables tracking.
	CollisionWindow time.Duration `mapstructure:"collision_window"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// AdminConfig holds the operator-facing endpoints.
type AdminConfig struct {
	// GRPCHost is the bind address for the gRPC health service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the port for the gRPC health service; 0 disables it.
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsAddr is the HTTP listen address for /metrics; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// StatusInterval is the period of the session status log; 0 disables it.
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// GRPCAddr returns the "host:port" gRPC address.
func (a AdminConfig) GRPCAddr() string {
	return net.JoinHostPort(a.GRPCHost, strconv.Itoa(a.GRPCPort))
}

// Config is the top-level application configuration.
type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Session IDRangeConfig `mapstructure:"session"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Logging LoggingConfig `mapstructure:"logging"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRange("session", c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRange("rooms", c.Rooms.IDRangeConfig); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Rooms.CollisionWindow < 0 {
		errs = append(errs, "rooms.collision_window must not be negative")
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	// the datagram socket takes Port+1, so the stream port stops one short
	if r.Port < 0 || r.Port > 65534 {
		errs = append(errs, fmt.Sprintf("relay.port must be 0-65534, got %d", r.Port))
	}
	if r.ReadTimeout < 0 {
		errs = append(errs, "relay.read_timeout must not be negative")
	}
	if r.WriteTimeout < 0 {
		errs = append(errs, "relay.write_timeout must not be negative")
	}
	if r.MaxFrameSize < 2 || r.MaxFrameSize > 65535 {
		errs = append(errs, fmt.Sprintf("relay.max_frame_size must be 2-65535, got %d", r.MaxFrameSize))
	}
	if r.InvalidFrameLimit < 1 {
		errs = append(errs, fmt.Sprintf("relay.invalid_frame_limit must be >= 1, got %d", r.InvalidFrameLimit))
	}
	if r.BroadcastConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("relay.broadcast_concurrency must be >= 1, got %d", r.BroadcastConcurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRange(prefix string, r IDRangeConfig) error {
	var errs []string
	if r.Min < math.MinInt16 || r.Min > math.MaxInt16 {
		errs = append(errs, fmt.Sprintf("%s.id_min must fit in int16, got %d", prefix, r.Min))
	}
	if r.Max < math.MinInt16 || r.Max > math.MaxInt16 {
		errs = append(errs, fmt.Sprintf("%s.id_max must fit in int16, got %d", prefix, r.Max))
	}
	if r.Max <= r.Min {
		errs = append(errs, fmt.Sprintf("%s.id_max must exceed %s.id_min", prefix, prefix))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCPort < 0 || a.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 0-65535, got %d", a.GRPCPort))
	}
	if a.StatusInterval < 0 {
		errs = append(errs, "admin.status_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment overrides.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with SPEEDWAR_ prefix
	v.SetEnvPrefix("SPEEDWAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a viper instance populated only with default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 7777)
	v.SetDefault("relay.read_timeout", "0s")
	v.SetDefault("relay.write_timeout", "5s")
	v.SetDefault("relay.max_frame_size", 1024)
	v.SetDefault("relay.invalid_frame_limit", 100)
	v.SetDefault("relay.broadcast_concurrency", 16)

	v.SetDefault("session.id_min", 1000)
	v.SetDefault("session.id_max", 9999)

	v.SetDefault("rooms.id_min", 1000)
	v.SetDefault("rooms.id_max", 9999)
	v.SetDefault("rooms.collision_window", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 7790)
	v.SetDefault("admin.metrics_addr", "127.0.0.1:7791")
	v.SetDefault("admin.status_interval", "1s")
}

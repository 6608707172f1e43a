package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Relay: RelayConfig{
			Host:                 "127.0.0.1",
			Port:                 7777,
			WriteTimeout:         5 * time.Second,
			MaxFrameSize:         1024,
			InvalidFrameLimit:    100,
			BroadcastConcurrency: 16,
		},
		Session: IDRangeConfig{Min: 1000, Max: 9999},
		Rooms: RoomsConfig{
			IDRangeConfig:   IDRangeConfig{Min: 1000, Max: 9999},
			CollisionWindow: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			GRPCHost:       "127.0.0.1",
			GRPCPort:       7790,
			MetricsAddr:    "127.0.0.1:7791",
			StatusInterval: time.Second,
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestRelayAddrs(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "127.0.0.1:7777", cfg.Relay.StreamAddr())
	assert.Equal(t, "127.0.0.1:7778", cfg.Relay.DatagramAddr())

	cfg.Relay.Port = 0
	assert.Equal(t, "127.0.0.1:0", cfg.Relay.DatagramAddr())
}

func TestAdminGRPCAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "127.0.0.1:7790", cfg.Admin.GRPCAddr())
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadFromViper(Defaults())
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Relay.Port)
	assert.Equal(t, 100, cfg.Relay.InvalidFrameLimit)
	assert.Equal(t, 1024, cfg.Relay.MaxFrameSize)
	assert.Equal(t, time.Duration(0), cfg.Relay.ReadTimeout)
	assert.Equal(t, IDRangeConfig{Min: 1000, Max: 9999}, cfg.Session)
	assert.Equal(t, IDRangeConfig{Min: 1000, Max: 9999}, cfg.Rooms.IDRangeConfig)
	assert.Equal(t, 10*time.Minute, cfg.Rooms.CollisionWindow)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Relay.Host)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
relay:
  host: 10.0.0.5
  port: 9000
  read_timeout: 2m
  invalid_frame_limit: 50
session:
  id_min: 1
  id_max: 100
rooms:
  id_min: 200
  id_max: 300
  collision_window: 0s
logging:
  level: debug
  format: console
admin:
  grpc_port: 0
  metrics_addr: ""
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:9000", cfg.Relay.StreamAddr())
	assert.Equal(t, "10.0.0.5:9001", cfg.Relay.DatagramAddr())
	assert.Equal(t, 2*time.Minute, cfg.Relay.ReadTimeout)
	assert.Equal(t, 50, cfg.Relay.InvalidFrameLimit)
	assert.Equal(t, 1024, cfg.Relay.MaxFrameSize, "unset keys keep defaults")
	assert.Equal(t, IDRangeConfig{Min: 1, Max: 100}, cfg.Session)
	assert.Equal(t, IDRangeConfig{Min: 200, Max: 300}, cfg.Rooms.IDRangeConfig)
	assert.Equal(t, time.Duration(0), cfg.Rooms.CollisionWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0, cfg.Admin.GRPCPort)
	assert.Empty(t, cfg.Admin.MetricsAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SPEEDWAR_RELAY_PORT", "6000")
	t.Setenv("SPEEDWAR_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Relay.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Port = 65535
	cfg.Relay.MaxFrameSize = 1
	cfg.Session = IDRangeConfig{Min: 10, Max: 10}
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.port")
	assert.Contains(t, err.Error(), "relay.max_frame_size")
	assert.Contains(t, err.Error(), "session.id_max must exceed")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_RangeMustFitInt16(t *testing.T) {
	cfg := validConfig()
	cfg.Rooms.IDRangeConfig = IDRangeConfig{Min: 0, Max: 40000}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rooms.id_max must fit in int16")
}

func TestValidate_Negatives(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.ReadTimeout = -time.Second
	cfg.Relay.WriteTimeout = -time.Second
	cfg.Rooms.CollisionWindow = -time.Second
	cfg.Admin.StatusInterval = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"relay.read_timeout", "relay.write_timeout", "rooms.collision_window", "admin.status_interval"} {
		assert.Contains(t, err.Error(), key)
	}
}

// TestValidate_PortProperty checks that every stream port leaving room for
// the datagram port is accepted and every other port is rejected.
func TestValidate_PortProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		port := rapid.IntRange(-10, 70000).Draw(rt, "port")
		cfg := validConfig()
		cfg.Relay.Port = port
		err := cfg.Validate()
		if port >= 0 && port <= 65534 {
			assert.NoError(rt, err)
		} else {
			assert.Error(rt, err)
		}
	})
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "relay.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7777", cfg.Relay.StreamAddr())
	assert.Equal(t, "127.0.0.1:7790", cfg.Admin.GRPCAddr())
}

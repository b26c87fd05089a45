package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 100, cfg.Store.SubscriberBuffer)
	assert.Zero(t, cfg.Store.LockTTL.Duration())
	assert.True(t, cfg.TCP.Enabled)
	assert.Equal(t, DefaultTCPAddr, cfg.TCP.Addr)
	assert.False(t, cfg.MCP.Enabled)
}

func TestParse_Full(t *testing.T) {
	yaml := `
log:
  level: debug
  format: text
store:
  subscriber_buffer: 8
  lock_ttl: 30s
tcp:
  addr: "127.0.0.1:6000"
  max_clients: 4
  name: Car bus
websocket:
  enabled: false
web:
  addr: "127.0.0.1:6001"
mcp:
  enabled: true
discovery:
  enabled: true
  instance: car-1
simulator:
  enabled: true
  interval: 50ms
  seed: 7
signals_file: signals.yaml
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Store.SubscriberBuffer)
	assert.Equal(t, 30*time.Second, cfg.Store.LockTTL.Duration())

	assert.True(t, cfg.TCP.Enabled, "unset keys keep their defaults")
	assert.Equal(t, "127.0.0.1:6000", cfg.TCP.Addr)
	assert.Equal(t, 4, cfg.TCP.MaxClients)
	assert.Equal(t, "Car bus", cfg.TCP.Name)
	assert.False(t, cfg.WebSocket.Enabled)

	assert.True(t, cfg.MCP.Enabled)
	assert.Equal(t, "car-1", cfg.Discovery.Instance)
	assert.Equal(t, 50*time.Millisecond, cfg.Simulator.Interval.Duration())
	assert.Equal(t, int64(7), cfg.Simulator.Seed)
	assert.Equal(t, "signals.yaml", cfg.SignalsFile)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("VSHADOW_TEST_PORT", "7000")

	cfg, err := Parse([]byte(`
tcp:
  addr: "127.0.0.1:${VSHADOW_TEST_PORT}"
web:
  addr: "${VSHADOW_TEST_UNSET:-127.0.0.1:7001}"
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.TCP.Addr)
	assert.Equal(t, "127.0.0.1:7001", cfg.Web.Addr)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad level", "log: {level: loud}", "log.level"},
		{"bad format", "log: {format: xml}", "log.format"},
		{"zero buffer", "store: {subscriber_buffer: -1}", "subscriber_buffer"},
		{"negative ttl", "store: {lock_ttl: -1s}", "lock_ttl"},
		{"bad duration", "store: {lock_ttl: soon}", "invalid duration"},
		{"bad addr", "tcp: {addr: nowhere}", "tcp.addr"},
		{"addr clash", "web: {addr: \"0.0.0.0:50051\"}", "already used"},
		{"unset env", "tcp: {addr: \"${VSHADOW_TEST_MISSING}\"}", "VSHADOW_TEST_MISSING"},
		{"max clients", "websocket: {max_clients: 0}", "max_clients"},
		{"discovery instance", "discovery: {enabled: true, instance: \"\"}", "discovery.instance"},
		{"simulator interval", "simulator: {enabled: true, interval: 0s}", "simulator.interval"},
		{"not yaml", "tcp: [", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_DisabledListenerSkipsAddrChecks(t *testing.T) {
	_, err := Parse([]byte(`
websocket:
  enabled: false
  addr: "0.0.0.0:50051"
`))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vshadow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: {subscriber_buffer: 3}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Store.SubscriberBuffer)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

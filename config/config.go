// Package config provides YAML configuration parsing for the vshadow server.
//
// Every key is optional; an empty file yields the defaults below.
//
//	log:
//	  level: info        # debug | info | warn | error
//	  format: json       # json | text
//	store:
//	  subscriber_buffer: 100
//	  lock_ttl: 0s       # 0 keeps locks until released
//	tcp:
//	  enabled: true
//	  addr: "0.0.0.0:50051"
//	  max_clients: 16
//	websocket:
//	  enabled: true
//	  addr: "${VSHADOW_WS_ADDR:-0.0.0.0:50052}"
//	web:
//	  enabled: true
//	  addr: "0.0.0.0:8080"
//	mcp:
//	  enabled: false
//	discovery:
//	  enabled: false
//	  instance: vshadow
//	simulator:
//	  enabled: false
//	  interval: 100ms
//	signals_file: ""     # empty uses the built-in vehicle catalogue
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTCPAddr       = "0.0.0.0:50051"
	DefaultWebSocketAddr = "0.0.0.0:50052"
	DefaultWebAddr       = "0.0.0.0:8080"
)

// Config is the root configuration structure.
//
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	TCP       TransportConfig `yaml:"tcp"`
	WebSocket TransportConfig `yaml:"websocket"`
	Web       WebConfig       `yaml:"web"`
	MCP       MCPConfig       `yaml:"mcp"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Simulator SimulatorConfig `yaml:"simulator"`

	// SignalsFile is a YAML signal catalogue. Empty means the built-in
	// vehicle catalogue. Supports ${VAR} and ${VAR:-default}.
	SignalsFile string `yaml:"signals_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig tunes the shadow store.
type StoreConfig struct {
	// SubscriberBuffer is the channel capacity of each subscription stream.
	// Updates beyond it are dropped for that stream.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// LockTTL is the lease of a lock. Zero means locks never expire.
	LockTTL Duration `yaml:"lock_ttl"`
}

// TransportConfig configures the TCP or WebSocket RPC listener.
type TransportConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	MaxClients  int    `yaml:"max_clients"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MCPConfig enables the stdio MCP server. It takes over stdin and stdout, so
// logs should go elsewhere when it is on.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

type SimulatorConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Seed     int64    `yaml:"seed"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{SubscriberBuffer: 100},
		TCP: TransportConfig{
			Enabled:    true,
			Addr:       DefaultTCPAddr,
			MaxClients: 16,
			Name:       "TCP Server",
		},
		WebSocket: TransportConfig{
			Enabled:    true,
			Addr:       DefaultWebSocketAddr,
			MaxClients: 16,
			Name:       "WebSocket Gateway",
		},
		Web:       WebConfig{Enabled: true, Addr: DefaultWebAddr},
		Discovery: DiscoveryConfig{Instance: "vshadow"},
		Simulator: SimulatorConfig{Interval: Duration(100 * time.Millisecond)},
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data on top of [Default], expands
// environment variables in addresses and the signals file, and validates
// the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandAndValidate() error {
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if c.Store.SubscriberBuffer <= 0 {
		return fmt.Errorf("store.subscriber_buffer must be positive, got %d", c.Store.SubscriberBuffer)
	}
	if c.Store.LockTTL.Duration() < 0 {
		return fmt.Errorf("store.lock_ttl cannot be negative, got %s", c.Store.LockTTL.Duration())
	}

	listeners := []struct {
		name    string
		enabled bool
		addr    *string
	}{
		{"tcp", c.TCP.Enabled, &c.TCP.Addr},
		{"websocket", c.WebSocket.Enabled, &c.WebSocket.Addr},
		{"web", c.Web.Enabled, &c.Web.Addr},
	}
	seen := make(map[string]string, len(listeners))
	for _, l := range listeners {
		expanded, err := expandEnvVars(*l.addr)
		if err != nil {
			return fmt.Errorf("%s.addr: %w", l.name, err)
		}
		*l.addr = expanded
		if !l.enabled {
			continue
		}
		if _, _, err := net.SplitHostPort(expanded); err != nil {
			return fmt.Errorf("%s.addr: invalid address %q: %w", l.name, expanded, err)
		}
		if other, dup := seen[expanded]; dup {
			return fmt.Errorf("%s.addr: %q is already used by %s", l.name, expanded, other)
		}
		seen[expanded] = l.name
	}

	for name, t := range map[string]TransportConfig{"tcp": c.TCP, "websocket": c.WebSocket} {
		if t.Enabled && t.MaxClients <= 0 {
			return fmt.Errorf("%s.max_clients must be positive, got %d", name, t.MaxClients)
		}
	}

	if c.Discovery.Enabled && c.Discovery.Instance == "" {
		return fmt.Errorf("discovery.instance is required when discovery is enabled")
	}

	if c.Simulator.Enabled && c.Simulator.Interval.Duration() < time.Millisecond {
		return fmt.Errorf("simulator.interval must be at least 1ms, got %s", c.Simulator.Interval.Duration())
	}

	expanded, err := expandEnvVars(c.SignalsFile)
	if err != nil {
		return fmt.Errorf("signals_file: %w", err)
	}
	c.SignalsFile = expanded

	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

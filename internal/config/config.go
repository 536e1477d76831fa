// Package config handles Hodor client configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the gateway address used when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config flag) is checked first.
// Then: ./hodor.yaml, ~/.config/hodor/hodor.yaml, /etc/hodor/hodor.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"hodor.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hodor", "hodor.yaml"))
	}

	paths = append(paths, "/etc/hodor/hodor.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists in the
// search path.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error wrapping ErrNoConfig if nothing was
// found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Hodor client configuration.
type Config struct {
	// BaseURL is the gateway address, e.g. http://localhost:8080.
	BaseURL string `yaml:"base_url"`

	// ConnectTimeout bounds opening the event stream.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds each command POST and health check. Tool
	// execution can be slow, so this is generous.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Transport selects "sse" (default) or "direct" (POST /mcp).
	Transport string `yaml:"transport"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Query is the default hodor-find query.
	Query string `yaml:"query"`

	// SkipSchema skips the informational hodor-schema step.
	SkipSchema bool `yaml:"skip_schema"`

	// RequireInitResult fails a session whose initialize response has
	// no result instead of carrying on.
	RequireInitResult bool `yaml:"require_init_result"`

	// Headers are sent with every request to the gateway.
	Headers map[string]string `yaml:"headers"`

	Journal JournalConfig `yaml:"journal"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// JournalConfig controls the local history of tool executions.
type JournalConfig struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `yaml:"path"`
}

// NotifyConfig controls publication of tool call events.
type NotifyConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig defines the broker that receives tool call events.
type MQTTConfig struct {
	// Broker is the broker URL (mqtt://, mqtts://, tcp://, ssl://).
	// Empty disables publishing.
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Topic is the topic events are published to.
	Topic string `yaml:"topic"`

	// ClientID defaults to "hodor-client-" plus the instance id.
	ClientID string `yaml:"client_id"`

	// QoS is 0, 1 or 2.
	QoS byte `yaml:"qos"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file. Unset fields take their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.Journal.Path = ExpandHome(cfg.Journal.Path)

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
// Other paths are returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.Transport == "" {
		c.Transport = "sse"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Query == "" {
		c.Query = "memory"
	}
	if c.Notify.MQTT.Topic == "" {
		c.Notify.MQTT.Topic = "hodor/events/tool.call"
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q: scheme must be http or https", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q: missing host", c.BaseURL)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	switch c.Transport {
	case "sse", "direct":
	default:
		return fmt.Errorf("transport %q: must be sse or direct", c.Transport)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		return fmt.Errorf("log_format: %w", err)
	}
	if m := c.Notify.MQTT; m.Configured() {
		bu, err := url.Parse(m.Broker)
		if err != nil {
			return fmt.Errorf("notify.mqtt.broker %q: %w", m.Broker, err)
		}
		switch bu.Scheme {
		case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("notify.mqtt.broker %q: unsupported scheme %q", m.Broker, bu.Scheme)
		}
		if m.QoS > 2 {
			return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
		}
	}
	return nil
}

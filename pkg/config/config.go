// Package config provides configuration handling for microtcp endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the complete endpoint configuration.
type Config struct {
	// Engine contains the protocol engine tuning.
	Engine core.EngineConfig `json:"engine" yaml:"engine"`

	// Transport contains the datagram transport configuration.
	Transport core.TransportConfig `json:"transport" yaml:"transport"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is either "text" or "json".
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: core.DefaultEngineConfig(),
		Transport: core.TransportConfig{
			ListenAddr: "0.0.0.0:9000",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file. Fields missing from the
// file keep their current values.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// envInt stores the integer value of key into dst when it is set and parses.
func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		} else {
			logging.Warnf("ignoring %s=%q: %v", key, val, err)
		}
	}
}

func envBool(key string, dst *bool) {
	if val := strings.ToLower(strings.TrimSpace(os.Getenv(key))); val != "" {
		*dst = val == "1" || val == "true" || val == "yes" || val == "on"
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// LoadFromEnv overrides configuration from MICROTCP_* environment variables.
func LoadFromEnv(config *Config) {
	// Engine
	envInt("MICROTCP_RECV_BUFFER_SIZE", &config.Engine.RecvBufferSize)
	envInt("MICROTCP_WINDOW_SIZE", &config.Engine.WindowSize)
	envInt("MICROTCP_MAX_SEGMENT_PAYLOAD", &config.Engine.MaxSegmentPayload)
	envInt("MICROTCP_RTO_MS", &config.Engine.RetransmitTimeoutMs)
	envInt("MICROTCP_MAX_RETRANSMITS", &config.Engine.MaxRetransmits)
	envInt("MICROTCP_HANDSHAKE_TIMEOUT_MS", &config.Engine.HandshakeTimeoutMs)
	envInt("MICROTCP_CLOSE_TIMEOUT_MS", &config.Engine.CloseTimeoutMs)
	envInt("MICROTCP_POLL_INTERVAL_MS", &config.Engine.PollIntervalMs)

	// Transport
	envString("MICROTCP_LISTEN_ADDR", &config.Transport.ListenAddr)
	envString("MICROTCP_PEER_ADDR", &config.Transport.PeerAddr)
	envInt("MICROTCP_TOS", &config.Transport.TOS)
	envInt("MICROTCP_TTL", &config.Transport.TTL)
	envInt("MICROTCP_READ_BUFFER_SIZE", &config.Transport.ReadBufferSize)
	envString("MICROTCP_CAPTURE_FILE", &config.Transport.CaptureFile)
	envBool("MICROTCP_DEBUG", &config.Transport.Debug)

	// Logging
	envString("MICROTCP_LOG_LEVEL", &config.Logging.Level)
	envString("MICROTCP_LOG_FORMAT", &config.Logging.Format)
	envString("MICROTCP_LOG_FILE", &config.Logging.File)
	envInt("MICROTCP_LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("MICROTCP_LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("MICROTCP_LOG_MAX_AGE", &config.Logging.MaxAge)
}

func validateUDPAddr(name, addr string) error {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, addr, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.WindowSize > c.Engine.RecvBufferSize {
		return fmt.Errorf("engine: window size %d exceeds receive buffer %d",
			c.Engine.WindowSize, c.Engine.RecvBufferSize)
	}

	if c.Transport.ListenAddr == "" {
		return fmt.Errorf("transport: listen address cannot be empty")
	}
	if err := validateUDPAddr("listen address", c.Transport.ListenAddr); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if c.Transport.PeerAddr != "" {
		if err := validateUDPAddr("peer address", c.Transport.PeerAddr); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	if c.Transport.TOS < 0 || c.Transport.TOS > 255 {
		return fmt.Errorf("transport: invalid TOS: %d", c.Transport.TOS)
	}
	if c.Transport.TTL < 0 || c.Transport.TTL > 255 {
		return fmt.Errorf("transport: invalid TTL: %d", c.Transport.TTL)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetJSONFormat(c.Logging.Format == "json")

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Package config loads and validates the wireshark-mcp configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the configuration file.
const (
	EnvTshark   = "TSHARK"
	EnvHost     = "WIRESHARK_MCP_HOST"
	EnvPort     = "WIRESHARK_MCP_PORT"
	EnvLogLevel = "WIRESHARK_MCP_LOG_LEVEL"
)

// Transports.
const (
	TransportSSE   = "sse"
	TransportStdio = "stdio"
)

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tshark  TsharkConfig  `yaml:"tshark"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the MCP transport.
type ServerConfig struct {
	Host      string `yaml:"host" validate:"required"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	Transport string `yaml:"transport" validate:"oneof=sse stdio"`
}

// TsharkConfig locates the analyzer.
type TsharkConfig struct {
	Path        string `yaml:"path,omitempty"` // empty: $TSHARK, then PATH
	StderrLimit int    `yaml:"stderr_limit" validate:"min=1024"`
}

// LimitsConfig bounds the work done per request.
type LimitsConfig struct {
	MaxPackets       int           `yaml:"max_packets" validate:"min=1,ltefield=MaxPacketsLimit"`
	MaxPacketsLimit  int           `yaml:"max_packets_limit" validate:"min=1"`
	TopN             int           `yaml:"top_n" validate:"min=1"`
	DetailPackets    int           `yaml:"detail_packets" validate:"min=0"`
	MaxResponseBytes int           `yaml:"max_response_bytes" validate:"min=1024"`
	MaxConcurrent    int           `yaml:"max_concurrent" validate:"min=1,max=64"`
	AnalysisTimeout  time.Duration `yaml:"analysis_timeout" validate:"min=1s"`
	CaptureGrace     time.Duration `yaml:"capture_grace" validate:"min=0s"`
	MaxDuration      time.Duration `yaml:"max_duration" validate:"min=1s"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      3000,
			Transport: TransportSSE,
		},
		Tshark: TsharkConfig{
			StderrLimit: 64 << 10,
		},
		Limits: LimitsConfig{
			MaxPackets:       5000,
			MaxPacketsLimit:  100000,
			TopN:             10,
			DetailPackets:    50,
			MaxResponseBytes: 64 << 10,
			MaxConcurrent:    4,
			AnalysisTimeout:  60 * time.Second,
			CaptureGrace:     5 * time.Second,
			MaxDuration:      300 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults
// with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTshark); ok && v != "" {
		c.Tshark.Path = v
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var vErr validator.ValidationErrors
	if !errors.As(err, &vErr) {
		return err
	}
	msgs := make([]string, 0, len(vErr))
	for _, fe := range vErr {
		msgs = append(msgs, describeField(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	name := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", name, fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", name, fe.Tag(), fe.Param(), fe.Value())
	}
}

// Addr returns the listen address of the SSE transport.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// NewLogger returns a slog logger writing to w according to the logging
// configuration.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Logging.Level)}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name to a slog level; unknown names are Info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

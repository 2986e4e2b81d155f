package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogConfig is the serializable form of the logger configuration.
type LogConfig struct {
	Level      string          `json:"level"`
	Format     string          `json:"format"`
	Output     string          `json:"output"`
	Components map[string]bool `json:"components"`
	Timestamp  bool            `json:"timestamp"`
	Rotation   *RotationConfig `json:"rotation,omitempty"`
}

// RotationConfig describes file rotation for file outputs.
type RotationConfig struct {
	MaxSize    string `json:"max_size"` // e.g. "10MB"
	MaxAge     string `json:"max_age"`  // e.g. "7d", "24h"
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// DefaultLogConfig mirrors DefaultConfig.
func DefaultLogConfig() *LogConfig {
	def := DefaultConfig()
	components := make(map[string]bool, len(def.Components))
	for c, on := range def.Components {
		components[string(c)] = on
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stderr",
		Components: components,
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %v", err)
	}
	config := DefaultLogConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %v", err)
	}
	return config, nil
}

// SaveConfigToFile saves configuration to a JSON file
func (c *LogConfig) SaveConfigToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %v", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %v", err)
	}
	return nil
}

// ToLoggerConfig converts LogConfig to Config, opening file outputs
// (rotating when Rotation is set).
func (c *LogConfig) ToLoggerConfig() (*Config, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse level: %v", err)
	}
	format, err := ParseFormat(c.Format)
	if err != nil {
		return nil, fmt.Errorf("parse format: %v", err)
	}
	output, err := c.openOutput()
	if err != nil {
		return nil, fmt.Errorf("parse output: %v", err)
	}
	components := make(map[Component]bool, len(c.Components))
	for name, enabled := range c.Components {
		components[Component(name)] = enabled
	}
	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		Timestamp:  c.Timestamp,
	}, nil
}

func (c *LogConfig) openOutput() (io.Writer, error) {
	switch strings.ToLower(c.Output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard", "none":
		return io.Discard, nil
	}
	if c.Rotation == nil {
		return os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	size, err := ParseSize(c.Rotation.MaxSize)
	if err != nil {
		return nil, err
	}
	age, err := ParseDuration(c.Rotation.MaxAge)
	if err != nil {
		return nil, err
	}
	return NewRotatingWriter(c.Output, size, age, c.Rotation.MaxBackups, c.Rotation.Compress)
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown level: %s", s)
}

// ParseFormat parses "text", "json" or "color".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colour":
		return FormatColor, nil
	}
	return FormatText, fmt.Errorf("unknown format: %s", s)
}

// ParseSize parses sizes such as "512", "64KB", "10MB" or "1GB".
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSuffix(s, u.suffix), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %v", err)
	}
	return n * mult, nil
}

// ParseDuration extends time.ParseDuration with a day suffix ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %v", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Environment variables read by FromEnvironment.
const (
	EnvLevel      = "TURKANIME_LOG_LEVEL"
	EnvFormat     = "TURKANIME_LOG_FORMAT"
	EnvOutput     = "TURKANIME_LOG_OUTPUT"
	EnvComponents = "TURKANIME_LOG_COMPONENTS" // comma separated, "all" enables every component
	EnvTimestamp  = "TURKANIME_LOG_TIMESTAMP"
)

// FromEnvironment applies TURKANIME_LOG_* overrides on top of base.
func FromEnvironment(base *LogConfig) *LogConfig {
	if base == nil {
		base = DefaultLogConfig()
	}
	if v := os.Getenv(EnvLevel); v != "" {
		base.Level = v
	}
	if v := os.Getenv(EnvFormat); v != "" {
		base.Format = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		base.Output = v
	}
	if v := os.Getenv(EnvComponents); v != "" {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "all" {
				for _, c := range AllComponents {
					base.Components[string(c)] = true
				}
				continue
			}
			if name != "" {
				base.Components[name] = true
			}
		}
	}
	if v := os.Getenv(EnvTimestamp); v != "" {
		base.Timestamp, _ = strconv.ParseBool(v)
	}
	return base
}

// Validate checks that every field parses.
func (c *LogConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if _, err := ParseFormat(c.Format); err != nil {
		return err
	}
	if c.Rotation != nil {
		if _, err := ParseSize(c.Rotation.MaxSize); err != nil {
			return err
		}
		if _, err := ParseDuration(c.Rotation.MaxAge); err != nil {
			return err
		}
		if c.Rotation.MaxBackups < 0 {
			return fmt.Errorf("max_backups must be >= 0")
		}
	}
	return nil
}

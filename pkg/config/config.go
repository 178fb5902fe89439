package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Config represents the k5d configuration
type Config struct {
	Serial struct {
		Device        string `yaml:"device" toml:"device"`
		BaudRate      int    `yaml:"baud_rate" toml:"baud_rate"`
		ReadTimeoutMs int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
	} `yaml:"serial" toml:"serial"`

	Display struct {
		KeepaliveIntervalMs int  `yaml:"keepalive_interval_ms" toml:"keepalive_interval_ms"`
		StatsWindowMs       int  `yaml:"stats_window_ms" toml:"stats_window_ms"`
		RingBufferSize      int  `yaml:"ring_buffer_size" toml:"ring_buffer_size"`
		StrictChecksum      bool `yaml:"strict_checksum" toml:"strict_checksum"`
		SubscriberBuffer    int  `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	} `yaml:"display" toml:"display"`

	Memory struct {
		BatchSize          int `yaml:"batch_size" toml:"batch_size"`
		HandshakeTimeoutMs int `yaml:"handshake_timeout_ms" toml:"handshake_timeout_ms"`
	} `yaml:"memory" toml:"memory"`

	Profile struct {
		Force string `yaml:"force" toml:"force"`
	} `yaml:"profile" toml:"profile"`

	Web struct {
		Port        int    `yaml:"port" toml:"port"`
		BindAddress string `yaml:"bind_address" toml:"bind_address"`
	} `yaml:"web" toml:"web"`

	Storage struct {
		DatabasePath string `yaml:"database_path" toml:"database_path"`
		MaxSnapshots int    `yaml:"max_snapshots" toml:"max_snapshots"`
	} `yaml:"storage" toml:"storage"`

	Logging struct {
		Level      string `yaml:"level" toml:"level"`
		File       string `yaml:"file" toml:"file"`
		Console    bool   `yaml:"console" toml:"console"`
		Structured bool   `yaml:"structured" toml:"structured"`
		MaxSize    int    `yaml:"max_size" toml:"max_size"`
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
		MaxAge     int    `yaml:"max_age" toml:"max_age"`
		Compress   bool   `yaml:"compress" toml:"compress"`
	} `yaml:"logging" toml:"logging"`
}

// LoadConfig loads configuration from a YAML file, or TOML when the path ends
// in .toml
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 38400
	}
	if c.Serial.ReadTimeoutMs == 0 {
		c.Serial.ReadTimeoutMs = 200
	}
	if c.Display.KeepaliveIntervalMs == 0 {
		c.Display.KeepaliveIntervalMs = 500
	}
	if c.Display.StatsWindowMs == 0 {
		c.Display.StatsWindowMs = 1000
	}
	if c.Display.RingBufferSize == 0 {
		c.Display.RingBufferSize = 32 * 1024
	}
	if c.Display.SubscriberBuffer == 0 {
		c.Display.SubscriberBuffer = 16
	}
	if c.Memory.BatchSize == 0 {
		c.Memory.BatchSize = 10
	}
	if c.Memory.HandshakeTimeoutMs == 0 {
		c.Memory.HandshakeTimeoutMs = 3000
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./k5link.db"
	}
	if c.Storage.MaxSnapshots == 0 {
		c.Storage.MaxSnapshots = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate(mock bool) error {
	if !mock && c.Serial.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial baud rate must be positive")
	}
	if c.Display.KeepaliveIntervalMs < 250 || c.Display.KeepaliveIntervalMs > 1000 {
		return fmt.Errorf("display keepalive interval must be between 250 and 1000 ms, got %d", c.Display.KeepaliveIntervalMs)
	}
	if c.Display.StatsWindowMs < 1000 {
		return fmt.Errorf("display stats window must be at least 1000 ms, got %d", c.Display.StatsWindowMs)
	}
	if c.Display.RingBufferSize < 16*1024 || c.Display.RingBufferSize > 32*1024 {
		return fmt.Errorf("display ring buffer size must be between 16384 and 32768, got %d", c.Display.RingBufferSize)
	}
	if c.Memory.BatchSize < 1 {
		return fmt.Errorf("memory batch size must be at least 1, got %d", c.Memory.BatchSize)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", c.Web.Port)
	}
	return nil
}

// KeepaliveInterval returns the keepalive period
func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.Display.KeepaliveIntervalMs) * time.Millisecond
}

// StatsWindow returns the display statistics window
func (c *Config) StatsWindow() time.Duration {
	return time.Duration(c.Display.StatsWindowMs) * time.Millisecond
}

// HandshakeTimeout returns the bounded wait for device identification
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Memory.HandshakeTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the serial read timeout
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

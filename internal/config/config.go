package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Connection ConnectionConfig `yaml:"connection"`
	Binding    BindingConfig    `yaml:"binding"`
	Services   ServicesConfig   `yaml:"services"`
	LogLevel   string           `yaml:"log_level"`
}

// DeviceConfig identifies the paired watch.
type DeviceConfig struct {
	Address string `yaml:"address"` // MAC address, or peripheral UUID on macOS; empty until paired
	Name    string `yaml:"name"`
}

// ConnectionConfig holds link settings.
type ConnectionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`        // per connect attempt
	Retries       int           `yaml:"retries"`        // attempts after the first
	RetryDelay    time.Duration `yaml:"retry_delay"`    // between attempts
	AutoReconnect bool          `yaml:"auto_reconnect"` // reconnect after link loss
	ReconnectMax  int           `yaml:"reconnect_max"`  // max reconnect backoff in seconds
	MTU           int           `yaml:"mtu"`
}

// BindingConfig holds GATT binding settings.
type BindingConfig struct {
	RequireNotification bool   `yaml:"require_notification"`
	PartialServices     string `yaml:"partial_services"` // "skip" or "exclude"
}

// ServicesConfig enables the built-in modules.
type ServicesConfig struct {
	Time          bool `yaml:"time"`
	Weather       bool `yaml:"weather"`
	Notifications bool `yaml:"notifications"`
	Media         bool `yaml:"media"`
	Screenshot    bool `yaml:"screenshot"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "asteroid-sync")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Timeout:       100 * time.Second,
			Retries:       3,
			RetryDelay:    200 * time.Millisecond,
			AutoReconnect: true,
			ReconnectMax:  30,
			MTU:           256,
		},
		Binding: BindingConfig{
			RequireNotification: true,
			PartialServices:     "skip",
		},
		Services: ServicesConfig{
			Time:          true,
			Weather:       true,
			Notifications: true,
			Media:         true,
			Screenshot:    true,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address != "" && !validAddress(c.Device.Address) {
		return fmt.Errorf("device.address must be a MAC address like AA:BB:CC:DD:EE:FF or a CoreBluetooth UUID, got %q", c.Device.Address)
	}

	if c.Connection.Timeout <= 0 {
		return fmt.Errorf("connection.timeout must be > 0")
	}
	if c.Connection.Retries < 0 {
		return fmt.Errorf("connection.retries must be >= 0")
	}
	if c.Connection.RetryDelay < 0 {
		return fmt.Errorf("connection.retry_delay must be >= 0")
	}
	if c.Connection.ReconnectMax <= 0 {
		return fmt.Errorf("connection.reconnect_max must be > 0")
	}
	// 23 is the ATT minimum, 517 the maximum.
	if c.Connection.MTU < 23 || c.Connection.MTU > 517 {
		return fmt.Errorf("connection.mtu must be between 23 and 517, got %d", c.Connection.MTU)
	}

	switch c.Binding.PartialServices {
	case "skip", "exclude":
	default:
		return fmt.Errorf("binding.partial_services must be \"skip\" or \"exclude\", got %q", c.Binding.PartialServices)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// validAddress accepts a 48-bit MAC address (BlueZ, WinRT) or the UUID
// CoreBluetooth assigns to a peripheral on macOS.
func validAddress(s string) bool {
	if hw, err := net.ParseMAC(s); err == nil && len(hw) == 6 {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// ParseLogLevel maps a log_level value to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
	}
}

const defaultHeader = `# asteroid-sync configuration
#
# device.address is the MAC address of the paired watch.
# binding.partial_services decides what happens to a module whose
# characteristics are only partly present on the watch: "skip" drops the
# missing characteristics, "exclude" drops the whole module.

`

// WriteDefault writes the default config to DefaultConfigPath. If the file
// already exists it does nothing and returns an empty path.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

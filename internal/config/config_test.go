package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Address != "" {
		t.Errorf("Device.Address = %q, want empty", cfg.Device.Address)
	}
	if cfg.Connection.Timeout != 100*time.Second {
		t.Errorf("Connection.Timeout = %v, want 100s", cfg.Connection.Timeout)
	}
	if cfg.Connection.Retries != 3 {
		t.Errorf("Connection.Retries = %d, want 3", cfg.Connection.Retries)
	}
	if cfg.Connection.RetryDelay != 200*time.Millisecond {
		t.Errorf("Connection.RetryDelay = %v, want 200ms", cfg.Connection.RetryDelay)
	}
	if !cfg.Connection.AutoReconnect {
		t.Error("Connection.AutoReconnect should default to true")
	}
	if cfg.Connection.MTU != 256 {
		t.Errorf("Connection.MTU = %d, want 256", cfg.Connection.MTU)
	}
	if !cfg.Binding.RequireNotification {
		t.Error("Binding.RequireNotification should default to true")
	}
	if cfg.Binding.PartialServices != "skip" {
		t.Errorf("Binding.PartialServices = %q, want %q", cfg.Binding.PartialServices, "skip")
	}
	if !cfg.Services.Time || !cfg.Services.Screenshot {
		t.Error("built-in services should be enabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  address: "AA:BB:CC:DD:EE:FF"
  name: catfish
connection:
  timeout: 30s
  retries: 5
  retry_delay: 1s
  auto_reconnect: false
  reconnect_max: 60
  mtu: 185
binding:
  require_notification: false
  partial_services: exclude
services:
  media: false
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" || cfg.Device.Name != "catfish" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if cfg.Connection.Timeout != 30*time.Second {
		t.Errorf("Connection.Timeout = %v, want 30s", cfg.Connection.Timeout)
	}
	if cfg.Connection.Retries != 5 {
		t.Errorf("Connection.Retries = %d, want 5", cfg.Connection.Retries)
	}
	if cfg.Connection.RetryDelay != time.Second {
		t.Errorf("Connection.RetryDelay = %v, want 1s", cfg.Connection.RetryDelay)
	}
	if cfg.Connection.AutoReconnect {
		t.Error("Connection.AutoReconnect = true, want false")
	}
	if cfg.Connection.ReconnectMax != 60 {
		t.Errorf("Connection.ReconnectMax = %d, want 60", cfg.Connection.ReconnectMax)
	}
	if cfg.Connection.MTU != 185 {
		t.Errorf("Connection.MTU = %d, want 185", cfg.Connection.MTU)
	}
	if cfg.Binding.RequireNotification {
		t.Error("Binding.RequireNotification = true, want false")
	}
	if cfg.Binding.PartialServices != "exclude" {
		t.Errorf("Binding.PartialServices = %q, want %q", cfg.Binding.PartialServices, "exclude")
	}
	if cfg.Services.Media {
		t.Error("Services.Media = true, want false")
	}
	// Unset fields keep their defaults.
	if !cfg.Services.Weather {
		t.Error("Services.Weather should keep its default")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("connection: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid device address",
			modify:  func(c *Config) { c.Device.Address = "aa:bb:cc:dd:ee:ff" },
			wantErr: false,
		},
		{
			name:    "corebluetooth device uuid",
			modify:  func(c *Config) { c.Device.Address = "6ba7b810-9dad-11d1-80b4-00c04fd430c8" },
			wantErr: false,
		},
		{
			name:    "braced uuid rejected",
			modify:  func(c *Config) { c.Device.Address = "{6ba7b810-9dad-11d1-80b4-00c04fd430c8}" },
			wantErr: true,
		},
		{
			name:    "eui-64 rejected",
			modify:  func(c *Config) { c.Device.Address = "02:00:5e:10:00:00:00:01" },
			wantErr: true,
		},
		{
			name:    "invalid device address",
			modify:  func(c *Config) { c.Device.Address = "watch" },
			wantErr: true,
		},
		{
			name:    "zero timeout",
			modify:  func(c *Config) { c.Connection.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Connection.Retries = -1 },
			wantErr: true,
		},
		{
			name:    "zero reconnect max",
			modify:  func(c *Config) { c.Connection.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name:    "mtu below minimum",
			modify:  func(c *Config) { c.Connection.MTU = 22 },
			wantErr: true,
		},
		{
			name:    "mtu above maximum",
			modify:  func(c *Config) { c.Connection.MTU = 518 },
			wantErr: true,
		},
		{
			name:    "invalid partial services policy",
			modify:  func(c *Config) { c.Binding.PartialServices = "drop" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(verbose) should fail")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "asteroid-sync", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# asteroid-sync") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Connection.Timeout != 100*time.Second {
		t.Errorf("written config Connection.Timeout = %v, want 100s", cfg.Connection.Timeout)
	}
	if cfg.Binding.PartialServices != "skip" {
		t.Errorf("written config Binding.PartialServices = %q, want %q", cfg.Binding.PartialServices, "skip")
	}

	// The written file loads back into a valid config.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate() on written config error = %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "asteroid-sync")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device:\n  address: AA:BB:CC:DD:EE:FF\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

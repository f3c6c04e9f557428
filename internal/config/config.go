package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/pacinglights/internal/ble"
	"github.com/chaz8081/pacinglights/internal/command"
)

// Config holds all application configuration.
type Config struct {
	BLE        BLEConfig        `yaml:"ble"`
	Permission PermissionConfig `yaml:"permission"`
	Wave       WaveConfig       `yaml:"wave"`
	Hotkey     HotkeyConfig     `yaml:"hotkey"`
	StatusFeed StatusFeedConfig `yaml:"status_feed"`
	LogLevel   string           `yaml:"log_level"`
}

// BLEConfig holds radio and session settings.
type BLEConfig struct {
	Device           string        `yaml:"device"` // address used by send/stop when -device is omitted
	ServiceUUID      string        `yaml:"service_uuid"`
	CommandCharUUID  string        `yaml:"command_char_uuid"`
	NamePrefix       string        `yaml:"name_prefix"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ScanPolicy       string        `yaml:"scan_policy"` // "keep" or "clear"
	RescanOnLinkLoss bool          `yaml:"rescan_on_link_loss"`
}

// PermissionConfig holds radio permission settings.
type PermissionConfig struct {
	BluezAdapter string `yaml:"bluez_adapter"` // Linux only, e.g. "hci0"
}

// WaveConfig is the wave the start hotkey sends.
type WaveConfig struct {
	TotalLaps     int     `yaml:"total_laps"`
	TimePerLap    float64 `yaml:"time_per_lap"`
	NumLights     int     `yaml:"num_lights"`
	StartingLight int     `yaml:"starting_light"`
}

// Command converts the configured wave to a command.
func (w WaveConfig) Command() command.Command {
	return command.Command{
		TotalLaps:     w.TotalLaps,
		TimePerLap:    w.TimePerLap,
		NumLights:     w.NumLights,
		StartingLight: w.StartingLight,
	}
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled   bool     `yaml:"enabled"`
	StartKeys []string `yaml:"start_keys"`
	StopKeys  []string `yaml:"stop_keys"`
}

// StatusFeedConfig holds the status HTTP feed settings.
type StatusFeedConfig struct {
	Listen string `yaml:"listen"` // empty disables the feed
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pacinglights")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ServiceUUID:      ble.ServiceUUID,
			CommandCharUUID:  ble.CommandCharUUID,
			ConnectTimeout:   10 * time.Second,
			WriteTimeout:     5 * time.Second,
			ScanPolicy:       "keep",
			RescanOnLinkLoss: true,
		},
		Permission: PermissionConfig{
			BluezAdapter: "hci0",
		},
		Wave: WaveConfig{
			TotalLaps:     10,
			TimePerLap:    45.5,
			NumLights:     8,
			StartingLight: 0,
		},
		Hotkey: HotkeyConfig{
			Enabled:   true,
			StartKeys: []string{"ctrl", "shift", "s"},
			StopKeys:  []string{"ctrl", "shift", "x"},
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

	cfg.BLE.ServiceUUID = strings.ToLower(cfg.BLE.ServiceUUID)
	cfg.BLE.CommandCharUUID = strings.ToLower(cfg.BLE.CommandCharUUID)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist. An empty path means DefaultConfigPath.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if err := ble.ParseUUID(c.BLE.ServiceUUID); err != nil {
		return fmt.Errorf("ble.service_uuid: %w", err)
	}
	if err := ble.ParseUUID(c.BLE.CommandCharUUID); err != nil {
		return fmt.Errorf("ble.command_char_uuid: %w", err)
	}

	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.WriteTimeout <= 0 {
		return fmt.Errorf("ble.write_timeout must be > 0")
	}

	switch c.BLE.ScanPolicy {
	case "keep", "clear":
	default:
		return fmt.Errorf("ble.scan_policy must be \"keep\" or \"clear\", got %q", c.BLE.ScanPolicy)
	}

	if err := c.Wave.Command().Validate(); err != nil {
		return fmt.Errorf("wave: %w", err)
	}

	if c.Hotkey.Enabled {
		if len(c.Hotkey.StartKeys) == 0 {
			return fmt.Errorf("hotkey.start_keys must not be empty")
		}
		if len(c.Hotkey.StopKeys) == 0 {
			return fmt.Errorf("hotkey.stop_keys must not be empty")
		}
		if strings.Join(c.Hotkey.StartKeys, "+") == strings.Join(c.Hotkey.StopKeys, "+") {
			return fmt.Errorf("hotkey.start_keys and hotkey.stop_keys must differ")
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultHeader = `# pacinglights configuration
# Durations use Go syntax, e.g. 10s or 1m30s.
# ble.scan_policy: "keep" keeps devices found by earlier scans, "clear" forgets them.
# status_feed.listen: address for the HTTP/websocket status feed, e.g. 127.0.0.1:8420.

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config file already exists.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine home directory")
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

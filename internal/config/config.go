// Package config provides the bridge configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"cecbridge/internal/keybind"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no -config flag is given. A missing file means defaults.
const DefaultPath = "/etc/cecbridge/config.yaml"

// Hotplug sources
const (
	HotplugNetlink = "netlink"
	HotplugInotify = "inotify"
)

// ErrInvalid is returned for configuration values that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Config represents the bridge configuration
type Config struct {
	CEC   CECConfig   `yaml:"cec"`
	Input InputConfig `yaml:"input"`
	API   APIConfig   `yaml:"api"`
	Log   LogConfig   `yaml:"log"`
}

// CECConfig configures the bus side
type CECConfig struct {
	// DeviceName is the OSD name announced on the bus, the hostname when empty
	DeviceName string `yaml:"device_name"`

	// DeviceType picks the logical address class: tuner, playback, recording or audio
	DeviceType string `yaml:"device_type"`

	// ActivateSource makes the adapter announce itself as the active source on open
	ActivateSource bool `yaml:"activate_source"`

	// HoldDelay is how long a held control stays pressed
	HoldDelay time.Duration `yaml:"hold_delay"`
}

// InputConfig configures the key sources
type InputConfig struct {
	Evdev bool `yaml:"evdev"`
	Stdin bool `yaml:"stdin"`

	// Keymap is the ir-keytable TOML file mapping CEC scancodes to key names
	Keymap string `yaml:"keymap"`

	// Hotplug is "netlink" (udev) or "inotify" (/dev/input watch)
	Hotplug string `yaml:"hotplug"`

	// ExcludePhys lists physical locations never read. The CEC adapter's own input
	// device must be here or keys it reports would be sent straight back to the TV.
	ExcludePhys []string `yaml:"exclude_phys"`
}

// APIConfig configures the optional remote-control server
type APIConfig struct {
	// Listen is the address to serve on, disabled when empty
	Listen string `yaml:"listen"`

	// Token is an optional bearer token for API requests
	Token string `yaml:"token,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `yaml:"level"`
	Journal bool   `yaml:"journal"`
}

// DefaultConfig returns a new Config with the defaults
func DefaultConfig() *Config {
	return &Config{
		CEC: CECConfig{
			DeviceType: "tuner",
			HoldDelay:  500 * time.Millisecond,
		},
		Input: InputConfig{
			Evdev:       true,
			Stdin:       false,
			Keymap:      keybind.DefaultKeymapPath,
			Hotplug:     HotplugNetlink,
			ExcludePhys: []string{"vc4-hdmi/input0"},
		},
		Log: LogConfig{
			Level:   "info",
			Journal: true,
		},
	}
}

// Validate checks values that have a fixed set of choices
func (c *Config) Validate() error {
	if !slices.Contains([]string{HotplugNetlink, HotplugInotify}, c.Input.Hotplug) {
		return fmt.Errorf("%w: hotplug source %q", ErrInvalid, c.Input.Hotplug)
	}
	if c.CEC.HoldDelay < 0 {
		return fmt.Errorf("%w: negative hold delay %s", ErrInvalid, c.CEC.HoldDelay)
	}
	if !c.Input.Evdev && !c.Input.Stdin && c.API.Listen == "" {
		return fmt.Errorf("%w: no input source enabled", ErrInvalid)
	}
	return nil
}

// Manager handles loading the configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
}

// NewManager creates a configuration manager for path
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// Path returns the file the manager reads
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk over the defaults
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		// No config file, use defaults
		return nil
	}
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, m.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.configPath, err)
	}
	m.config = cfg
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := *m.config
	cfg.Input.ExcludePhys = slices.Clone(m.config.Input.ExcludePhys)
	return &cfg
}

// Set replaces the configuration, used once flags have been applied
func (m *Manager) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	return nil
}

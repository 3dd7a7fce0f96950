// Package config loads the YAML configuration of the host simulator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device DeviceConfig `yaml:"device"`
	Serial SerialConfig `yaml:"serial"`
	Sim    SimConfig    `yaml:"sim"`
	Log    LogConfig    `yaml:"log"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	// ModuleName is written to the Bluetooth module with AT+NAME.
	ModuleName string `yaml:"module_name"`
	// ModuleSetup runs the AT exchange at boot. Off by default on the host
	// where the serial side is usually a terminal.
	ModuleSetup      bool          `yaml:"module_setup"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
	Debounce         time.Duration `yaml:"debounce"`
}

// ---- SERIAL ----

type SerialConfig struct {
	// Port is empty for stdin/stdout.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ---- SIMULATION ----

type SimConfig struct {
	LinkUp     bool   `yaml:"link_up"`
	CadenceRPM int    `yaml:"cadence_rpm"`
	FlashPath  string `yaml:"flash_path"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultBaud             = 9600
	DefaultReconnectTimeout = 10 * time.Second
	DefaultDebounce         = 50 * time.Millisecond
	DefaultLogLevel         = "info"
	DefaultModuleName       = "GoCycling"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ModuleName:       DefaultModuleName,
			ReconnectTimeout: DefaultReconnectTimeout,
			Debounce:         DefaultDebounce,
		},
		Serial: SerialConfig{Baud: DefaultBaud},
		Log:    LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads, validates and normalizes the file at path. Keys missing from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// maxModuleName is the longest name the module's AT+NAME accepts.
	maxModuleName = 12
	maxCadenceRPM = 300
	// maxDebounce keeps the threshold below one wheel revolution at walking
	// pace.
	maxDebounce = time.Second
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	d := cfg.Device
	if len(d.ModuleName) > maxModuleName {
		return fmt.Errorf("device.module_name %q: longer than %d characters", d.ModuleName, maxModuleName)
	}
	for i := 0; i < len(d.ModuleName); i++ {
		if c := d.ModuleName[i]; c <= ' ' || c > 0x7E {
			return fmt.Errorf("device.module_name %q: printable ASCII without spaces only", d.ModuleName)
		}
	}
	if d.ReconnectTimeout < 0 {
		return fmt.Errorf("device.reconnect_timeout %s: negative", d.ReconnectTimeout)
	}
	if d.Debounce < 0 || d.Debounce > maxDebounce {
		return fmt.Errorf("device.debounce %s: outside 0..%s", d.Debounce, maxDebounce)
	}

	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud %d: negative", cfg.Serial.Baud)
	}
	if cfg.Sim.CadenceRPM < 0 || cfg.Sim.CadenceRPM > maxCadenceRPM {
		return fmt.Errorf("sim.cadence_rpm %d: outside 0..%d", cfg.Sim.CadenceRPM, maxCadenceRPM)
	}
	if cfg.Log.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}

// Normalize fills zero values left by the file. It must run after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Device.ModuleName == "" {
		cfg.Device.ModuleName = DefaultModuleName
	}
	if cfg.Device.ReconnectTimeout == 0 {
		cfg.Device.ReconnectTimeout = DefaultReconnectTimeout
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = DefaultBaud
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

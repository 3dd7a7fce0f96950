package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
device:
  module_setup: true
  reconnect_timeout: 5s
serial:
  port: /dev/ttyUSB0
sim:
  link_up: true
  cadence_rpm: 90
log:
  level: debug
`))
	require.NoError(t, err)

	assert.True(t, cfg.Device.ModuleSetup)
	assert.Equal(t, 5*time.Second, cfg.Device.ReconnectTimeout)
	assert.Equal(t, DefaultDebounce, cfg.Device.Debounce)
	assert.Equal(t, DefaultModuleName, cfg.Device.ModuleName)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, DefaultBaud, cfg.Serial.Baud)
	assert.True(t, cfg.Sim.LinkUp)
	assert.Equal(t, 90, cfg.Sim.CadenceRPM)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse([]byte("serial:\n  parity: even\n"))
	require.Error(t, err)
}

func TestNormalizeFillsZeros(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  module_name: \"\"\n  reconnect_timeout: 0s\nserial:\n  baud: 0\nlog:\n  level: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"long name", func(c *Config) { c.Device.ModuleName = "GoCyclingSensor1" }},
		{"name with space", func(c *Config) { c.Device.ModuleName = "Go Cycling" }},
		{"negative timeout", func(c *Config) { c.Device.ReconnectTimeout = -time.Second }},
		{"debounce too long", func(c *Config) { c.Device.Debounce = 2 * time.Second }},
		{"negative baud", func(c *Config) { c.Serial.Baud = -1 }},
		{"cadence too high", func(c *Config) { c.Sim.CadenceRPM = 1000 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(Default()))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gocycling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sim:\n  flash_path: /tmp/x.flash\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.flash", cfg.Sim.FlashPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/Pjottos/gocycling-controller/app"
	"github.com/Pjottos/gocycling-controller/hal"
	"github.com/Pjottos/gocycling-controller/internal/config"
)

func main() {
	var cfg hal.HeadlessConfig
	var cfgPath string
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.StringVar(&cfgPath, "config", "", "YAML configuration file.")
	flag.Parse()

	fileCfg := config.Default()
	if cfgPath != "" {
		var err error
		if fileCfg, err = config.Load(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	cfg.Host = hostConfig(fileCfg)
	newApp := appFactory(fileCfg)

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, cfg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, hal.ErrRebooted) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp, cfg.Host); err != nil && !errors.Is(err, hal.ErrRebooted) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hostConfig(c *config.Config) hal.HostConfig {
	return hal.HostConfig{
		SerialPort: c.Serial.Port,
		BaudRate:   c.Serial.Baud,
		FlashPath:  c.Sim.FlashPath,
		LogLevel:   c.Log.Level,
		LinkUp:     c.Sim.LinkUp,
		CadenceRPM: c.Sim.CadenceRPM,
	}
}

func appFactory(c *config.Config) hal.AppFactory {
	return func(h hal.HAL) (func() error, error) {
		d, err := app.NewWithConfig(h, app.Config{
			ModuleName:       c.Device.ModuleName,
			ModuleSetup:      c.Device.ModuleSetup,
			ReconnectTimeout: c.Device.ReconnectTimeout,
			DebounceMicros:   uint64(c.Device.Debounce.Microseconds()),
		})
		if err != nil {
			return nil, err
		}
		return d.Step, nil
	}
}

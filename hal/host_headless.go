//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled    bool
	Hz         int
	Ticks      uint64
	StepBudget int
	Host       HostConfig
}

// AppFactory builds the firmware on top of a HAL and returns its main loop
// step.
type AppFactory func(HAL) (step func() error, err error)

// RunHeadless runs the firmware without opening a window. The sensor pin is
// driven by a simulated cadence when Host.CadenceRPM is set.
func RunHeadless(ctx context.Context, newApp AppFactory, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = 1
	}

	h, err := newHostHAL(cfg.Host)
	if err != nil {
		return err
	}
	defer h.close()
	step, err := newApp(h)
	if err != nil {
		return err
	}
	cad := newCadence(h.sensor.Name(), cfg.Host.CadenceRPM)

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if cad != nil {
				// Magnet present pulls the reed switch low.
				h.sensor.Drive(!cad.Level())
			}
			for i := 0; i < cfg.StepBudget; i++ {
				if err := step(); err != nil {
					return err
				}
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}

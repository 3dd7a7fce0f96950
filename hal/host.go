//go:build !tinygo

package hal

import (
	"fmt"
	"image/color"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// HostConfig configures the simulated device.
type HostConfig struct {
	// SerialPort is the host device of a USB-serial adapter wired to the
	// Bluetooth module. Empty selects stdin/stdout.
	SerialPort string
	BaudRate   int
	FlashPath  string
	LogLevel   string
	// LinkUp starts the simulation with the link pin high.
	LinkUp bool
	// CadenceRPM drives the sensor pin in headless mode; 0 disables it.
	CadenceRPM int
}

const (
	hostScreenWidth  = 240
	hostScreenHeight = 135
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	t      *hostTime
	flash  *hostFlash
	sensor *simPin
	link   *simPin
	serial *hostSerial
	rtc    *hostRTC
	light  *hostLight
	reboot atomic.Bool
}

// NewHost returns a host HAL implementation.
func NewHost(cfg HostConfig) (HAL, error) {
	return newHostHAL(cfg)
}

func newHostHAL(cfg HostConfig) (*hostHAL, error) {
	logger, err := newHostLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	serial, err := openHostSerial(cfg, logger.entry.WithField("component", "serial"))
	if err != nil {
		return nil, err
	}
	flash := newHostFlash(cfg.FlashPath)
	flash.consumeStaged(logger.entry.WithField("component", "boot"))
	return &hostHAL{
		logger: logger,
		fb:     newHostFramebuffer(hostScreenWidth, hostScreenHeight),
		t:      newHostTime(),
		flash:  flash,
		// Reed switch with pull-up: idle high, low while the magnet passes.
		sensor: newSimPin("SENSOR", true),
		link:   newSimPin("LINK", cfg.LinkUp),
		serial: serial,
		rtc:    &hostRTC{},
		light:  &hostLight{log: logger.entry.WithField("component", "status")},
	}, nil
}

func (h *hostHAL) Logger() Logger           { return h.logger }
func (h *hostHAL) Display() Display         { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Flash() Flash             { return h.flash }
func (h *hostHAL) Time() Time               { return h.t }
func (h *hostHAL) Sensor() InterruptPin     { return h.sensor }
func (h *hostHAL) Link() InterruptPin       { return h.link }
func (h *hostHAL) Serial() Serial           { return h.serial }
func (h *hostHAL) RTC() RTC                 { return h.rtc }
func (h *hostHAL) StatusLight() StatusLight { return h.light }
func (h *hostHAL) Rebooted() bool           { return h.reboot.Load() }

func (h *hostHAL) NewAlarm(fire func(gen uint32)) Alarm {
	return &hostAlarm{fire: fire}
}

func (h *hostHAL) close() {
	_ = h.serial.Close()
	_ = h.flash.Close()
}

func (h *hostHAL) Reboot() {
	if !h.reboot.Swap(true) {
		h.logger.entry.Warn("reboot requested")
	}
}

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	entry *logrus.Entry
}

func newHostLogger(level string) (*hostLogger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		l.SetLevel(lvl)
	}
	return &hostLogger{entry: logrus.NewEntry(l).WithField("component", "device")}, nil
}

func (l *hostLogger) WriteLineString(s string) {
	l.entry.Info(s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.entry.Info(string(b))
}

type hostLight struct {
	mu  sync.Mutex
	c   color.RGBA
	log *logrus.Entry
}

func (l *hostLight) Set(c color.RGBA) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == c {
		return
	}
	l.c = c
	l.log.WithField("rgb", fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)).Debug("status light")
}

func (l *hostLight) color() color.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c
}

package hal

import (
	"errors"
	"image/color"
	"io"
	"time"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var (
	ErrNotImplemented = errors.New("not implemented")
	// ErrRebooted is returned by the main loop after Reboot was requested.
	ErrRebooted = errors.New("rebooted")
)

// Framebuffer is the status screen surface. A zero size means the board has
// no screen.
type Framebuffer interface {
	Size() (width, height int)
	// SetPixel ignores coordinates outside the surface.
	SetPixel(x, y int, c color.RGBA)
	Fill(c color.RGBA)
	// Present makes everything drawn since the previous Present visible.
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// StageAreaBytes is the size of the update staging area. Offsets passed to
// Flash are relative to its start.
const StageAreaBytes = 64 * 1024

// Flash is the update staging area: raw offsets and erase blocks only.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Time provides a monotonic microsecond clock.
type Time interface {
	Micros() uint64
}

// Edge selects which level transitions raise a pin interrupt.
type Edge uint8

const (
	EdgeRising Edge = 1 << iota
	EdgeFalling
	EdgeBoth = EdgeRising | EdgeFalling
)

// InterruptPin is a digital input that calls a handler on level changes.
// The handler runs in interrupt context and must not block.
type InterruptPin interface {
	Name() string
	Read() bool
	SetInterrupt(edges Edge, handler func(level bool)) error
}

// Serial is the UART connected to the Bluetooth serial module. Read is only
// valid while receive interrupts are disabled; EnableRx hands every received
// byte to handler in interrupt context until the returned Closer is closed.
type Serial interface {
	io.ReadWriter
	EnableRx(handler func(b byte)) (io.Closer, error)
}

// Alarm is a one-shot timer. Arm replaces any pending countdown.
type Alarm interface {
	Arm(gen uint32, after time.Duration)
	Cancel()
}

// RTC is the wall clock.
type RTC interface {
	SetTime(t time.Time) error
	Now() (time.Time, bool)
}

// StatusLight shows the device status colour.
type StatusLight interface {
	Set(c color.RGBA)
}

// HAL provides the only contact point between the firmware and the outside world.
type HAL interface {
	Logger() Logger
	Display() Display
	Flash() Flash
	Time() Time
	Sensor() InterruptPin
	Link() InterruptPin
	Serial() Serial
	// NewAlarm returns an Alarm whose expiry calls fire in interrupt context
	// with the generation it was armed with.
	NewAlarm(fire func(gen uint32)) Alarm
	RTC() RTC
	StatusLight() StatusLight
	// Reboot restarts the device. Host implementations record the request
	// and return; the main loop then stops with ErrRebooted.
	Reboot()
	Rebooted() bool
}

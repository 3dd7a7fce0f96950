//go:build tinygo && (rp2040 || rp2350)

package hal

import (
	"errors"
	"image/color"
	"io"
	"machine"
	"time"

	"tinygo.org/x/drivers/ws2812"

	"github.com/Pjottos/gocycling-controller/status"
)

type tinyGoDisplay struct {
	fb Framebuffer
}

func (d tinyGoDisplay) Framebuffer() Framebuffer { return d.fb }

type tinyGoTime struct{}

var bootTime = time.Now()

func (*tinyGoTime) Micros() uint64 {
	return uint64(time.Since(bootTime) / time.Microsecond)
}

type usbLogger struct{}

func (l *usbLogger) WriteLineString(s string) {
	_, _ = machine.Serial.Write([]byte(s))
	_, _ = machine.Serial.Write([]byte("\r\n"))
}

func (l *usbLogger) WriteLineBytes(b []byte) {
	_, _ = machine.Serial.Write(b)
	_, _ = machine.Serial.Write([]byte("\r\n"))
}

type machinePin struct {
	name string
	pin  machine.Pin
}

func newMachinePin(name string, pin machine.Pin, mode machine.PinMode) *machinePin {
	pin.Configure(machine.PinConfig{Mode: mode})
	return &machinePin{name: name, pin: pin}
}

func (p *machinePin) Name() string { return p.name }
func (p *machinePin) Read() bool   { return p.pin.Get() }

func (p *machinePin) SetInterrupt(edges Edge, handler func(level bool)) error {
	var change machine.PinChange
	if edges&EdgeRising != 0 {
		change |= machine.PinRising
	}
	if edges&EdgeFalling != 0 {
		change |= machine.PinFalling
	}
	if handler == nil {
		return p.pin.SetInterrupt(0, nil)
	}
	return p.pin.SetInterrupt(change, func(pin machine.Pin) { handler(pin.Get()) })
}

var errRxEnabled = errors.New("serial: receive already enabled")

// uartSerial dispatches bytes buffered by the UART driver's receive
// interrupt to the installed handler from a polling goroutine.
type uartSerial struct {
	uart    *machine.UART
	handler func(b byte)
	started bool
}

func (s *uartSerial) Read(p []byte) (int, error) {
	if s.uart == nil {
		return 0, ErrNotImplemented
	}
	return s.uart.Read(p)
}

func (s *uartSerial) Write(p []byte) (int, error) {
	if s.uart == nil {
		return 0, ErrNotImplemented
	}
	return s.uart.Write(p)
}

func (s *uartSerial) EnableRx(handler func(b byte)) (io.Closer, error) {
	if s.uart == nil {
		return nil, ErrNotImplemented
	}
	if s.handler != nil {
		return nil, errRxEnabled
	}
	s.handler = handler
	if !s.started {
		s.started = true
		go s.poll()
	}
	return uartRx{s: s}, nil
}

func (s *uartSerial) poll() {
	for {
		for s.uart.Buffered() > 0 {
			b, err := s.uart.ReadByte()
			if err != nil {
				break
			}
			if h := s.handler; h != nil {
				h(b)
			}
		}
		time.Sleep(500 * time.Microsecond)
	}
}

type uartRx struct {
	s *uartSerial
}

func (r uartRx) Close() error {
	r.s.handler = nil
	return nil
}

type timerAlarm struct {
	t    *time.Timer
	fire func(gen uint32)
}

func (a *timerAlarm) Arm(gen uint32, after time.Duration) {
	a.Cancel()
	a.t = time.AfterFunc(after, func() { a.fire(gen) })
}

func (a *timerAlarm) Cancel() {
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
}

type softRTC struct {
	offset time.Duration
	set    bool
}

func (r *softRTC) SetTime(t time.Time) error {
	r.offset = time.Until(t)
	r.set = true
	return nil
}

func (r *softRTC) Now() (time.Time, bool) {
	if !r.set {
		return time.Time{}, false
	}
	return time.Now().Add(r.offset), true
}

type pwm interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

var pwmSlices = [...]pwm{
	machine.PWM0, machine.PWM1, machine.PWM2, machine.PWM3,
	machine.PWM4, machine.PWM5, machine.PWM6, machine.PWM7,
}

type pwmChannel struct {
	pwm pwm
	ch  uint8
}

// pwmLight drives a common-anode RGB LED.
type pwmLight struct {
	r, g, b pwmChannel
}

func newPWMLight(r, g, b machine.Pin) (StatusLight, error) {
	var l pwmLight
	for _, c := range []struct {
		pin machine.Pin
		out *pwmChannel
	}{{r, &l.r}, {g, &l.g}, {b, &l.b}} {
		p := pwmSlices[(uint8(c.pin)>>1)&7]
		if err := p.Configure(machine.PWMConfig{}); err != nil {
			return nullLight{}, err
		}
		ch, err := p.Channel(c.pin)
		if err != nil {
			return nullLight{}, err
		}
		*c.out = pwmChannel{pwm: p, ch: ch}
	}
	l.Set(color.RGBA{})
	return &l, nil
}

func (l *pwmLight) Set(c color.RGBA) {
	lv := status.PWM(c).Inverted()
	l.r.set(lv.R)
	l.g.set(lv.G)
	l.b.set(lv.B)
}

func (c pwmChannel) set(level uint16) {
	c.pwm.Set(c.ch, uint32(uint64(level)*uint64(c.pwm.Top())/0xFFFF))
}

// ws2812Light drives a single addressable LED.
type ws2812Light struct {
	dev ws2812.Device
	buf [1]color.RGBA
}

func newWS2812Light(pin machine.Pin) StatusLight {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	l := &ws2812Light{dev: ws2812.New(pin)}
	l.Set(color.RGBA{})
	return l
}

func (l *ws2812Light) Set(c color.RGBA) {
	lv := status.PWM(c)
	l.buf[0] = color.RGBA{R: uint8(lv.R >> 8), G: uint8(lv.G >> 8), B: uint8(lv.B >> 8), A: 0xFF}
	_ = l.dev.WriteColors(l.buf[:])
}

type nullLight struct{}

func (nullLight) Set(color.RGBA) {}

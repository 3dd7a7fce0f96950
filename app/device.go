// Package app wires the firmware components to a HAL and runs the main loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/hal"
	"github.com/Pjottos/gocycling-controller/host"
	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/offline"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/state"
	"github.com/Pjottos/gocycling-controller/status"
	"github.com/Pjottos/gocycling-controller/update"
)

// ErrNoImage is returned when staging is attempted before a transfer
// completed.
var ErrNoImage = errors.New("gocycling: no complete image")

// Config tunes a Device.
type Config struct {
	// ModuleName is advertised by the Bluetooth module. Empty selects
	// host.DefaultModuleName.
	ModuleName string
	// ModuleSetup runs the AT setup before receive is first enabled.
	ModuleSetup      bool
	ReconnectTimeout time.Duration
	DebounceMicros   uint64
}

// Device is the firmware context: every component lives here and is reached
// through it, from the main loop or from the interrupt glue.
type Device struct {
	h   hal.HAL
	log hal.Logger
	cfg Config

	events  kernel.Mailbox
	tx      host.TxQueue
	state   state.Store
	deb     *cycling.Debouncer
	offline *offline.Aggregator
	rx      *host.Receiver
	iface   *host.Interface
	applier *update.Applier
	screen  *screen

	rebootPending bool
	checksumDrops uint32
}

// New initializes the device with default config.
func New(h hal.HAL) (*Device, error) {
	return NewWithConfig(h, Config{ModuleSetup: true})
}

// NewWithConfig builds every component, runs the Bluetooth module setup when
// cfg asks for it and installs the sensor and link interrupts.
func NewWithConfig(h hal.HAL, cfg Config) (*Device, error) {
	dec, err := update.NewDecoder(0)
	if err != nil {
		return nil, err
	}

	d := &Device{
		h:       h,
		log:     h.Logger(),
		cfg:     cfg,
		deb:     cycling.NewDebouncer(cfg.DebounceMicros),
		applier: update.NewApplier(h.Flash()),
	}
	d.offline = offline.New(&d.state, d.deb)
	d.rx = host.NewReceiver(&d.events, &d.tx, dec)
	d.iface = host.New(host.Config{
		Port:             h.Serial(),
		Receiver:         d.rx,
		Tx:               &d.tx,
		Alarm:            h.NewAlarm(d.onAlarm),
		Clock:            h.Time(),
		RTC:              h.RTC(),
		Log:              d.log,
		State:            &d.state,
		Debouncer:        d.deb,
		Offline:          d.offline,
		ReconnectTimeout: cfg.ReconnectTimeout,
	})
	if disp := h.Display(); disp != nil {
		d.screen = newScreen(disp.Framebuffer())
	}

	if cfg.ModuleSetup {
		// Runs before receive interrupts are enabled; the module applies the
		// command after replying.
		if err := host.ConfigureModule(context.Background(), h.Serial(), cfg.ModuleName); err != nil {
			d.log.WriteLineString("gocycling: " + err.Error())
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := h.Sensor().SetInterrupt(hal.EdgeFalling, d.onSensor); err != nil {
		return nil, fmt.Errorf("sensor interrupt: %w", err)
	}
	if err := h.Link().SetInterrupt(hal.EdgeBoth, d.onLink); err != nil {
		return nil, fmt.Errorf("link interrupt: %w", err)
	}
	if h.Link().Read() {
		d.onLink(true)
	}

	d.log.WriteLineString("gocycling: ready")
	return d, nil
}

// Run starts the device and blocks forever (TinyGo entrypoint).
func Run(h hal.HAL) {
	d, err := New(h)
	if err != nil {
		h.Logger().WriteLineString("gocycling: " + err.Error())
		select {}
	}
	defer d.recoverPanic()
	for {
		if err := d.Step(); err != nil {
			d.log.WriteLineString("gocycling: " + err.Error())
			select {}
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Device) onSensor(bool) {
	now := d.h.Time().Micros()
	kernel.Interrupt(func(cs *kernel.Section) {
		ev, ok := d.deb.Edge(cs, now)
		if !ok {
			return
		}
		d.events.TrySend(kernel.Event{Kind: kernel.EventCycle, Value: ev.ElapsedMillis})
	})
}

func (d *Device) onLink(up bool) {
	kernel.Interrupt(func(*kernel.Section) {
		d.events.TrySend(kernel.Event{Kind: kernel.EventLink, Flag: up})
	})
}

func (d *Device) onAlarm(gen uint32) {
	kernel.Interrupt(func(*kernel.Section) {
		d.events.TrySend(kernel.Event{Kind: kernel.EventAlarm, Value: gen})
	})
}

// Step runs one main loop iteration: dispatch pending events, flush the
// transmit queue, reboot into a staged image and refresh the status.
func (d *Device) Step() error {
	if d.h.Rebooted() {
		return hal.ErrRebooted
	}

	for {
		ev, ok := d.events.TryRecv()
		if !ok {
			break
		}
		d.dispatch(ev)
	}

	if err := d.iface.Flush(); err != nil {
		d.log.WriteLineString("gocycling: flush: " + err.Error())
	}

	if d.rebootPending {
		d.h.Reboot()
		return hal.ErrRebooted
	}

	d.render()
	return nil
}

func (d *Device) dispatch(ev kernel.Event) {
	switch ev.Kind {
	case kernel.EventCycle:
		d.iface.Cycle(cycling.CycleEvent{ElapsedMillis: ev.Value})
	case kernel.EventLink:
		if err := d.iface.LinkChanged(ev.Flag); err != nil {
			d.log.WriteLineString("gocycling: link: " + err.Error())
		}
	case kernel.EventAlarm:
		d.iface.AlarmFired(ev.Value)
	case kernel.EventCommand:
		cmd, err := proto.DecodeRx(ev.Payload())
		if err != nil {
			d.log.WriteLineString("gocycling: command: " + err.Error())
			return
		}
		d.iface.Execute(cmd)
	case kernel.EventUpdate:
		if update.Status(ev.Value) == update.Complete {
			d.stageUpdate()
		}
	case kernel.EventDropped:
		d.checksumDrops++
	}
}

// stageUpdate writes the received image to the staging area. The reboot
// waits for the next flush so the host sees the Complete reply. A failed
// apply aborts the transfer and hands the receive path back to commands.
func (d *Device) stageUpdate() {
	var hdr update.StageHeader
	var err error
	kernel.Do(func(cs *kernel.Section) {
		img, ok := d.rx.Image(cs)
		if !ok {
			err = ErrNoImage
		} else {
			hdr, err = d.applier.Apply(cs, img)
		}
		if err != nil {
			d.rx.Abort(cs)
		}
	})
	if err != nil {
		d.log.WriteLineString("gocycling: update: " + err.Error())
		return
	}
	d.rebootPending = true
	d.log.WriteLineString(fmt.Sprintf("gocycling: staged %d blocks, %d bytes at %#x, crc %#08x",
		hdr.Blocks, hdr.Size, hdr.BaseAddr, hdr.CRC32))
}

// Snapshot is what the status screen shows.
type Snapshot struct {
	State      state.ProgramState
	Connected  bool
	Connection host.Connection
	Offline    cycling.Session
	HasOffline bool
	Host       host.Stats
	Rx         host.RxStats
	Updating   bool
	Dropped    uint32
}

// Snapshot returns a copy of the device state.
func (d *Device) Snapshot() Snapshot {
	var s Snapshot
	s.Connection, s.Connected = d.iface.Connection()
	s.Host = d.iface.Stats()
	kernel.Do(func(cs *kernel.Section) {
		s.State = d.state.Load(cs)
		s.Offline, s.HasOffline = d.offline.Peek(cs)
		s.Rx = d.rx.Stats(cs)
		s.Updating = d.rx.Updating(cs)
	})
	s.Dropped = d.events.Dropped() + d.checksumDrops
	return s
}

func (d *Device) render() {
	snap := d.Snapshot()
	d.h.StatusLight().Set(status.Color(snap.State))
	if d.screen != nil {
		d.screen.draw(snap)
	}
}

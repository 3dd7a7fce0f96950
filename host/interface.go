// Package host implements the link to the paired host: the connection and
// session state machine, the double-buffered transmit queue and the receive
// interrupt path.
package host

import (
	"fmt"
	"io"
	"time"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/offline"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/state"
)

// DefaultReconnectTimeout is how long a lost link may take to come back
// before the ride is handed to the offline aggregator.
const DefaultReconnectTimeout = 10 * time.Second

// Port is the serial peripheral. EnableRx installs the receive interrupt
// handler; closing the returned handle disables it again.
type Port interface {
	io.Writer
	EnableRx(handler func(b byte)) (io.Closer, error)
}

// Alarm is a one-shot countdown. When it expires the owner must call
// Interface.AlarmFired with the generation passed to Arm.
type Alarm interface {
	Arm(gen uint32, after time.Duration)
	Cancel()
}

// Clock returns a monotonic microsecond timestamp.
type Clock interface {
	Micros() uint64
}

// RTC is the wall clock set by StartSession.
type RTC interface {
	SetTime(t time.Time) error
}

// Logger writes log lines.
type Logger interface {
	WriteLineString(s string)
}

// Config wires an Interface to its collaborators.
type Config struct {
	Port     Port
	Receiver *Receiver
	Tx       *TxQueue
	Alarm    Alarm
	Clock    Clock
	RTC      RTC
	Log      Logger

	State     *state.Store
	Debouncer *cycling.Debouncer
	Offline   *offline.Aggregator

	ReconnectTimeout time.Duration
}

// Stats counts bounded-loss conditions.
type Stats struct {
	TxDropped       uint32
	LostDropped     uint32
	SessionFull     uint32
	OfflineFull     uint32
	IgnoredCommands uint32
	StaleAlarms     uint32
}

// Interface is the connection and session state machine. All methods except
// the Receiver's interrupt handler run on the main loop.
type Interface struct {
	port     Port
	rx       *Receiver
	tx       *TxQueue
	alarm    Alarm
	clock    Clock
	rtc      RTC
	log      Logger
	state    *state.Store
	debounce *cycling.Debouncer
	offline  *offline.Aggregator
	timeout  time.Duration

	conn  *Connection
	gen   uint32
	stats Stats
	frame [proto.MaxFrameBytes]byte
}

// New returns an Interface with no connection.
func New(cfg Config) *Interface {
	timeout := cfg.ReconnectTimeout
	if timeout <= 0 {
		timeout = DefaultReconnectTimeout
	}
	return &Interface{
		port:     cfg.Port,
		rx:       cfg.Receiver,
		tx:       cfg.Tx,
		alarm:    cfg.Alarm,
		clock:    cfg.Clock,
		rtc:      cfg.RTC,
		log:      cfg.Log,
		state:    cfg.State,
		debounce: cfg.Debouncer,
		offline:  cfg.Offline,
		timeout:  timeout,
	}
}

func (i *Interface) logf(format string, args ...any) {
	if i.log == nil {
		return
	}
	i.log.WriteLineString(fmt.Sprintf("host: "+format, args...))
}

// Connection returns a copy of the current connection.
func (i *Interface) Connection() (Connection, bool) {
	if i.conn == nil {
		return Connection{}, false
	}
	return i.conn.snapshot(), true
}

// Stats returns the loss counters.
func (i *Interface) Stats() Stats {
	return i.stats
}

// LinkChanged handles an edge on the link pin.
func (i *Interface) LinkChanged(up bool) error {
	c := i.conn
	switch {
	case up && c == nil:
		return i.connect()
	case up && c.LinkLost:
		i.relink()
	case !up && c != nil && !c.LinkLost:
		if c.SessionStarted {
			i.loseLink()
		} else {
			i.disconnect()
			kernel.Do(func(cs *kernel.Section) { i.state.Set(cs, state.AwaitingModeSelect()) })
			i.logf("link down, connection closed")
		}
	}
	return nil
}

func (i *Interface) connect() error {
	kernel.Do(func(cs *kernel.Section) { i.rx.Reset(cs) })
	rx, err := i.port.EnableRx(i.rx.OnByte)
	if err != nil {
		return fmt.Errorf("enable rx: %w", err)
	}
	i.conn = &Connection{rx: rx}
	kernel.Do(func(cs *kernel.Section) { i.state.Set(cs, state.Running(state.HueConnected)) })
	i.logf("link up, connected")
	return nil
}

func (i *Interface) disconnect() {
	if i.conn == nil {
		return
	}
	kernel.Do(func(cs *kernel.Section) { i.rx.Reset(cs) })
	if err := i.conn.rx.Close(); err != nil {
		i.logf("disable rx: %v", err)
	}
	i.conn = nil
}

func (i *Interface) loseLink() {
	i.conn.LinkLost = true
	i.gen++
	i.alarm.Arm(i.gen, i.timeout)
	kernel.Do(func(cs *kernel.Section) { i.state.Set(cs, state.Running(state.HueReconnecting)) })
	i.logf("link lost, waiting %s for reconnect", i.timeout)
}

func (i *Interface) relink() {
	c := i.conn
	c.LinkLost = false
	i.alarm.Cancel()
	i.gen++

	hue := state.HueConnected
	if c.SessionStarted {
		hue = state.HueStarted
	}
	replay := c.takeLost()
	kernel.Do(func(cs *kernel.Section) {
		i.state.Set(cs, state.Running(hue))
		for _, ev := range replay {
			if err := i.tx.Push(cs, proto.LiveData(ev)); err != nil {
				i.stats.TxDropped++
			}
		}
	})
	i.logf("link restored, replaying %d cycles", len(replay))
}

// AlarmFired handles expiry of the reconnect alarm armed with gen.
func (i *Interface) AlarmFired(gen uint32) {
	c := i.conn
	if c == nil || !c.LinkLost || gen != i.gen {
		i.stats.StaleAlarms++
		return
	}
	session := c.Session
	i.disconnect()
	var err error
	kernel.Do(func(cs *kernel.Section) { err = i.offline.Continue(cs, session) })
	if err != nil {
		i.stats.OfflineFull++
		i.logf("reconnect timed out, offline session full, dropped %s", session)
		return
	}
	i.logf("reconnect timed out, continuing offline (%s)", session)
}

// Execute applies a host command. Commands that do not fit the current
// state are ignored.
func (i *Interface) Execute(cmd proto.RxCommand) {
	c := i.conn
	if c == nil || c.LinkLost {
		i.ignore(cmd)
		return
	}

	switch cmd.Kind {
	case proto.RxStartSession:
		if !cmd.Start.IsZero() && i.rtc != nil {
			if err := i.rtc.SetTime(cmd.Start.Time()); err != nil {
				i.logf("set rtc: %v", err)
			}
		}
		i.handOver()
		i.startSession(cycling.Session{})

	case proto.RxStopSession:
		if !c.SessionStarted {
			i.ignore(cmd)
			return
		}
		c.SessionStarted = false
		c.Session = cycling.Session{}
		c.takeLost()
		kernel.Do(func(cs *kernel.Section) { i.state.Set(cs, state.Running(state.HueConnected)) })
		i.logf("session stopped")

	case proto.RxHandshake:
		if c.SessionStarted {
			i.ignore(cmd)
			return
		}
		if !cmd.SessionActive {
			i.logf("handshake, host idle")
			return
		}
		i.handOver()
		i.startSession(cycling.Session{})

	case proto.RxContinueSession:
		if c.SessionStarted {
			i.ignore(cmd)
			return
		}
		s := kernel.Run(func(cs *kernel.Section) cycling.Session {
			s, _ := i.offline.Take(cs)
			return s
		})
		i.startSession(s)

	case proto.RxBeginUpdate:
		i.logf("firmware transfer of %d chunks", cmd.ChunkCount)
	}
}

// handOver queues the held offline session as BulkData. If the queue is
// full the session stays with the aggregator.
func (i *Interface) handOver() {
	kernel.Do(func(cs *kernel.Section) {
		s, ok := i.offline.Take(cs)
		if !ok {
			return
		}
		if err := i.tx.Push(cs, proto.BulkData(s)); err != nil {
			i.stats.TxDropped++
			_ = i.offline.Continue(cs, s)
		}
	})
}

func (i *Interface) ignore(cmd proto.RxCommand) {
	i.stats.IgnoredCommands++
	i.logf("ignoring %s", cmd.Kind)
}

func (i *Interface) startSession(s cycling.Session) {
	c := i.conn
	c.Session = s
	c.SessionStarted = true
	c.takeLost()
	now := i.clock.Micros()
	kernel.Do(func(cs *kernel.Section) {
		i.debounce.Reset(cs, now)
		i.state.Set(cs, state.Running(state.HueStarted))
	})
	i.logf("session started (%s)", s)
}

// Cycle routes one cycle event to the host or the offline aggregator.
func (i *Interface) Cycle(ev cycling.CycleEvent) {
	c := i.conn
	if c == nil || !c.SessionStarted {
		var err error
		kernel.Do(func(cs *kernel.Section) {
			err = i.offline.Add(cs, ev)
			if c == nil {
				i.state.Set(cs, state.Running(state.HueOffline))
			}
		})
		if err != nil {
			i.stats.OfflineFull++
		}
		return
	}

	if err := c.Session.Add(ev); err != nil {
		i.stats.SessionFull++
	}
	if c.LinkLost {
		if !c.bufferLost(ev) {
			i.stats.LostDropped++
		}
		return
	}

	var err error
	kernel.Do(func(cs *kernel.Section) { err = i.tx.Push(cs, proto.LiveData(ev)) })
	if err != nil {
		i.stats.TxDropped++
	}
}

// Flush writes every queued command to the port. It must not be called
// from interrupt context.
func (i *Interface) Flush() error {
	return i.tx.Drain(func(cmd proto.TxCommand) error {
		frame, err := proto.AppendTx(i.frame[:0], cmd)
		if err != nil {
			return err
		}
		if _, err := i.port.Write(frame); err != nil {
			return fmt.Errorf("write %s: %w", cmd.Kind, err)
		}
		return nil
	})
}

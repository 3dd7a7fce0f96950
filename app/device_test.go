package app

import (
	"bytes"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/hal"
	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/state"
	"github.com/Pjottos/gocycling-controller/status"
	"github.com/Pjottos/gocycling-controller/update"
)

type lineLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lineLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type fakePin struct {
	name    string
	level   bool
	handler func(bool)
}

func (p *fakePin) Name() string { return p.name }
func (p *fakePin) Read() bool   { return p.level }

func (p *fakePin) SetInterrupt(_ hal.Edge, handler func(bool)) error {
	p.handler = handler
	return nil
}

func (p *fakePin) drive(level bool) {
	p.level = level
	if p.handler != nil {
		p.handler(level)
	}
}

type fakeSerial struct {
	out bytes.Buffer
	rx  func(byte)
}

func (s *fakeSerial) Read([]byte) (int, error)    { return 0, io.EOF }
func (s *fakeSerial) Write(b []byte) (int, error) { return s.out.Write(b) }

func (s *fakeSerial) EnableRx(handler func(byte)) (io.Closer, error) {
	s.rx = handler
	return closer(func() { s.rx = nil }), nil
}

func (s *fakeSerial) send(b []byte) {
	for _, c := range b {
		s.rx(c)
	}
}

type closer func()

func (c closer) Close() error { c(); return nil }

type fakeClock struct{ now uint64 }

func (c *fakeClock) Micros() uint64 { return c.now }

type fakeAlarm struct {
	fire func(uint32)
	gen  uint32
}

func (a *fakeAlarm) Arm(gen uint32, _ time.Duration) { a.gen = gen }
func (a *fakeAlarm) Cancel()                         {}

type fakeRTC struct{ t time.Time }

func (r *fakeRTC) SetTime(t time.Time) error { r.t = t; return nil }
func (r *fakeRTC) Now() (time.Time, bool)    { return r.t, !r.t.IsZero() }

type fakeLight struct {
	mu sync.Mutex
	c  color.RGBA
}

func (l *fakeLight) Set(c color.RGBA) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c = c
}

type memFlash struct{ data []byte }

func (f *memFlash) SizeBytes() uint32       { return uint32(len(f.data)) }
func (f *memFlash) EraseBlockBytes() uint32 { return 4096 }

func (f *memFlash) ReadAt(p []byte, off uint32) (int, error) {
	return copy(p, f.data[off:]), nil
}

func (f *memFlash) WriteAt(p []byte, off uint32) (int, error) {
	return copy(f.data[off:], p), nil
}

func (f *memFlash) Erase(off, size uint32) error {
	for i := off; i < off+size; i++ {
		f.data[i] = 0xFF
	}
	return nil
}

type fakeHAL struct {
	sensor, link *fakePin
	serial       *fakeSerial
	clock        *fakeClock
	alarm        *fakeAlarm
	rtc          *fakeRTC
	light        *fakeLight
	flash        *memFlash
	log          *lineLogger
	rebooted     bool
}

func newFakeHAL() *fakeHAL {
	return &fakeHAL{
		sensor: &fakePin{name: "SENSOR", level: true},
		link:   &fakePin{name: "LINK"},
		serial: &fakeSerial{},
		clock:  &fakeClock{now: 1_000_000},
		alarm:  &fakeAlarm{},
		rtc:    &fakeRTC{},
		light:  &fakeLight{},
		flash:  &memFlash{data: make([]byte, 64*1024)},
		log:    &lineLogger{},
	}
}

func (h *fakeHAL) Logger() hal.Logger           { return h.log }
func (h *fakeHAL) Display() hal.Display         { return nil }
func (h *fakeHAL) Flash() hal.Flash             { return h.flash }
func (h *fakeHAL) Time() hal.Time               { return h.clock }
func (h *fakeHAL) Sensor() hal.InterruptPin     { return h.sensor }
func (h *fakeHAL) Link() hal.InterruptPin       { return h.link }
func (h *fakeHAL) Serial() hal.Serial           { return h.serial }
func (h *fakeHAL) RTC() hal.RTC                 { return h.rtc }
func (h *fakeHAL) StatusLight() hal.StatusLight { return h.light }
func (h *fakeHAL) Reboot()                      { h.rebooted = true }
func (h *fakeHAL) Rebooted() bool               { return h.rebooted }

func (h *fakeHAL) NewAlarm(fire func(uint32)) hal.Alarm {
	h.alarm.fire = fire
	return h.alarm
}

// pedal produces one accepted sensor edge after ms milliseconds.
func (h *fakeHAL) pedal(ms uint64) {
	h.clock.now += ms * 1000
	h.sensor.drive(false)
	h.sensor.drive(true)
}

func (h *fakeHAL) sent(t *testing.T) []proto.TxCommand {
	t.Helper()
	asm := proto.NewTxAssembler()
	var out []proto.TxCommand
	for _, b := range h.serial.out.Bytes() {
		frame, ok, err := asm.Feed(b)
		require.NoError(t, err)
		if ok {
			cmd, err := proto.DecodeTx(frame)
			require.NoError(t, err)
			out = append(out, cmd)
		}
	}
	h.serial.out.Reset()
	return out
}

func rxFrame(t *testing.T, cmd proto.RxCommand) []byte {
	t.Helper()
	b, err := proto.AppendRx(nil, cmd)
	require.NoError(t, err)
	return b
}

func newTestDevice(t *testing.T) (*Device, *fakeHAL) {
	t.Helper()
	h := newFakeHAL()
	d, err := NewWithConfig(h, Config{})
	require.NoError(t, err)
	return d, h
}

func TestLiveSession(t *testing.T) {
	d, h := newTestDevice(t)

	h.link.drive(true)
	require.NoError(t, d.Step())
	require.NotNil(t, h.serial.rx, "receive enabled on link up")
	assert.Equal(t, status.Rainbow(state.HueConnected), h.light.c)

	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxStartSession}))
	require.NoError(t, d.Step())
	assert.Equal(t, state.Running(state.HueStarted), d.Snapshot().State)

	h.pedal(800)
	h.pedal(20) // bounce
	h.pedal(700)
	require.NoError(t, d.Step())

	assert.Equal(t, []proto.TxCommand{
		proto.LiveData(cycling.CycleEvent{ElapsedMillis: 800}),
		proto.LiveData(cycling.CycleEvent{ElapsedMillis: 720}),
	}, h.sent(t))
	assert.Equal(t, uint16(2), d.Snapshot().Connection.Session.CycleCount)
}

func TestOfflineRideHandedToHost(t *testing.T) {
	d, h := newTestDevice(t)

	// The first edge measures from boot.
	h.pedal(900)
	h.pedal(900)
	require.NoError(t, d.Step())
	snap := d.Snapshot()
	require.True(t, snap.HasOffline)
	assert.Equal(t, state.Running(state.HueOffline), snap.State)

	h.link.drive(true)
	require.NoError(t, d.Step())
	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxHandshake, SessionActive: true}))
	require.NoError(t, d.Step())

	assert.Equal(t, []proto.TxCommand{
		proto.BulkData(cycling.Session{AccumulatedMillis: 2800, CycleCount: 2}),
	}, h.sent(t))
	assert.False(t, d.Snapshot().HasOffline)
}

func TestReconnectTimeoutViaAlarm(t *testing.T) {
	d, h := newTestDevice(t)
	h.link.drive(true)
	require.NoError(t, d.Step())
	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxStartSession}))
	require.NoError(t, d.Step())
	h.pedal(500)
	require.NoError(t, d.Step())
	h.sent(t)

	h.link.drive(false)
	require.NoError(t, d.Step())
	assert.Equal(t, state.Running(state.HueReconnecting), d.Snapshot().State)

	h.alarm.fire(h.alarm.gen)
	require.NoError(t, d.Step())
	snap := d.Snapshot()
	assert.False(t, snap.Connected)
	require.True(t, snap.HasOffline)
	assert.Equal(t, uint16(1), snap.Offline.CycleCount)
	assert.Nil(t, h.serial.rx, "receive disabled after timeout")
}

func TestFirmwareUpdateStagesAndReboots(t *testing.T) {
	d, h := newTestDevice(t)
	h.link.drive(true)
	require.NoError(t, d.Step())

	c := update.NewChunk(update.Header{
		TargetAddr:  0x10000000,
		PayloadSize: 256,
		BlockCount:  1,
	}, bytes.Repeat([]byte{0x5A}, 256))
	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxBeginUpdate, ChunkCount: 1}))
	h.serial.send(update.AppendRecord(nil, &c))

	require.ErrorIs(t, d.Step(), hal.ErrRebooted)
	assert.True(t, h.rebooted)
	assert.Equal(t, []proto.TxCommand{proto.UpdateReply(proto.UpdateComplete, 1)}, h.sent(t))

	hdr, ok := update.ParseStageHeader(h.flash.data[:update.StageHeaderBytes])
	require.True(t, ok)
	assert.Equal(t, uint32(256), hdr.Size)
	assert.Equal(t, bytes.Repeat([]byte{0x5A}, 256), h.flash.data[4096:4096+256])

	require.ErrorIs(t, d.Step(), hal.ErrRebooted)
}

func TestFailedStagingReleasesReceiver(t *testing.T) {
	d, h := newTestDevice(t)
	h.flash.data = make([]byte, 4096)
	h.link.drive(true)
	require.NoError(t, d.Step())

	c := update.NewChunk(update.Header{
		TargetAddr:  0x10000000,
		PayloadSize: 256,
		BlockCount:  1,
	}, bytes.Repeat([]byte{0x5A}, 256))
	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxBeginUpdate, ChunkCount: 1}))
	h.serial.send(update.AppendRecord(nil, &c))

	require.NoError(t, d.Step())
	assert.False(t, h.rebooted)
	assert.False(t, d.Snapshot().Updating)
	assert.Equal(t, []proto.TxCommand{
		proto.UpdateReply(proto.UpdateComplete, 1),
		proto.UpdateReply(proto.UpdateRejected, 1),
	}, h.sent(t))

	h.serial.send(rxFrame(t, proto.RxCommand{Kind: proto.RxHandshake, SessionActive: true}))
	require.NoError(t, d.Step())
	snap := d.Snapshot()
	require.True(t, snap.Connected)
	assert.True(t, snap.Connection.SessionStarted)
}

func TestUpdateEventWithoutImage(t *testing.T) {
	d, h := newTestDevice(t)
	h.link.drive(true)
	require.NoError(t, d.Step())

	d.events.TrySend(kernel.Event{Kind: kernel.EventUpdate, Value: uint32(update.Complete)})
	require.NoError(t, d.Step())
	assert.False(t, h.rebooted)
	assert.Contains(t, h.log.all(), "gocycling: update: "+ErrNoImage.Error())
	assert.Empty(t, h.sent(t), "nothing to reject without a transfer")
}

func TestChecksumErrorsCounted(t *testing.T) {
	d, h := newTestDevice(t)
	h.link.drive(true)
	require.NoError(t, d.Step())

	frame := rxFrame(t, proto.RxCommand{Kind: proto.RxStopSession})
	frame[1] ^= 0xFF
	h.serial.send(frame)
	require.NoError(t, d.Step())

	snap := d.Snapshot()
	assert.Equal(t, uint32(1), snap.Rx.ChecksumErrors)
	assert.Equal(t, uint32(1), snap.Dropped)
}

func TestStatusLines(t *testing.T) {
	lines := statusLines(Snapshot{State: state.AwaitingModeSelect()})
	assert.Equal(t, "state: awaiting_select", lines[0])
	assert.Contains(t, lines, "link: down")
}

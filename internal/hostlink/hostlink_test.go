package hostlink

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/host"
	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/update"
)

// fakeDevice runs the firmware receive path behind an io.ReadWriter.
type fakeDevice struct {
	events kernel.Mailbox
	tx     host.TxQueue
	rx     *host.Receiver

	pr  *io.PipeReader
	pw  *io.PipeWriter
	out chan []byte

	mu      sync.Mutex
	corrupt int
}

func newFakeDevice(t *testing.T, withDecoder bool) *fakeDevice {
	t.Helper()
	d := &fakeDevice{out: make(chan []byte, 32)}
	var dec *update.Decoder
	if withDecoder {
		var err error
		dec, err = update.NewDecoder(0)
		require.NoError(t, err)
	}
	d.rx = host.NewReceiver(&d.events, &d.tx, dec)
	d.pr, d.pw = io.Pipe()
	go func() {
		for b := range d.out {
			if _, err := d.pw.Write(b); err != nil {
				return
			}
		}
		_ = d.pw.Close()
	}()
	return d
}

func (d *fakeDevice) Read(p []byte) (int, error) { return d.pr.Read(p) }

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	if len(p) == update.RecordBytes && d.corrupt > 0 {
		d.corrupt--
		p = append([]byte(nil), p...)
		p[100] ^= 0xFF
	}
	d.mu.Unlock()

	for _, b := range p {
		d.rx.OnByte(b)
	}
	var out []byte
	err := d.tx.Drain(func(cmd proto.TxCommand) error {
		var err error
		out, err = proto.AppendTx(out, cmd)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(out) > 0 {
		d.out <- out
	}
	return len(p), nil
}

func (d *fakeDevice) emit(t *testing.T, cmd proto.TxCommand) {
	t.Helper()
	frame, err := proto.AppendTx(nil, cmd)
	require.NoError(t, err)
	d.out <- frame
}

func (d *fakeDevice) commands(t *testing.T) []proto.RxCommand {
	t.Helper()
	var cmds []proto.RxCommand
	for {
		ev, ok := d.events.TryRecv()
		if !ok {
			return cmds
		}
		if ev.Kind != kernel.EventCommand {
			continue
		}
		cmd, err := proto.DecodeRx(ev.Payload())
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}
}

func (d *fakeDevice) image(t *testing.T) update.Image {
	t.Helper()
	var img update.Image
	var ok bool
	kernel.Do(func(cs *kernel.Section) { img, ok = d.rx.Image(cs) })
	require.True(t, ok, "image complete")
	return img
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type eventLog struct {
	mu  sync.Mutex
	evs []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) get() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.evs...)
}

var epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func startClient(t *testing.T, rw io.ReadWriter, onEvent func(Event)) (*Client, <-chan error) {
	t.Helper()
	c := New(rw, Options{Log: quietLog(), OnEvent: onEvent, Now: func() time.Time { return epoch }})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return c, errc
}

func testChunks(n int) []update.Chunk {
	chunks := make([]update.Chunk, n)
	for i := range chunks {
		chunks[i] = update.NewChunk(update.Header{
			Flags:       update.FlagFamilyID,
			TargetAddr:  0x10000000 + uint32(i)*256,
			PayloadSize: 256,
			BlockNum:    uint32(i),
			BlockCount:  uint32(n),
			FamilyID:    0xE48BFF56,
		}, bytes.Repeat([]byte{byte(i + 1)}, 256))
	}
	return chunks
}

func TestSessionCommands(t *testing.T) {
	dev := newFakeDevice(t, true)
	c, _ := startClient(t, dev, nil)

	start := time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC)
	require.NoError(t, c.StartSession(start))
	require.NoError(t, c.Handshake(true))
	require.NoError(t, c.ContinueSession())
	require.NoError(t, c.StopSession())
	require.NoError(t, c.StartSession(time.Time{}))

	cmds := dev.commands(t)
	require.Len(t, cmds, 5)
	assert.Equal(t, proto.RxStartSession, cmds[0].Kind)
	assert.Equal(t, start, cmds[0].Start.Time())
	assert.Equal(t, proto.RxCommand{Kind: proto.RxHandshake, SessionActive: true}, cmds[1])
	assert.Equal(t, proto.RxContinueSession, cmds[2].Kind)
	assert.Equal(t, proto.RxStopSession, cmds[3].Kind)
	assert.True(t, cmds[4].Start.IsZero())
}

func TestEventsDelivered(t *testing.T) {
	dev := newFakeDevice(t, true)
	var got eventLog
	c, errc := startClient(t, dev, got.add)

	dev.emit(t, proto.LiveData(cycling.CycleEvent{ElapsedMillis: 812}))
	dev.out <- []byte{0xEE}
	bad, err := proto.AppendTx(nil, proto.LiveData(cycling.CycleEvent{ElapsedMillis: 1}))
	require.NoError(t, err)
	bad[1] ^= 0xFF
	dev.out <- bad
	dev.emit(t, proto.BulkData(cycling.Session{AccumulatedMillis: 60_000, CycleCount: 70}))
	close(dev.out)

	require.NoError(t, <-errc)
	assert.Equal(t, []Event{
		{Time: epoch, Kind: proto.TxLiveData, Live: cycling.CycleEvent{ElapsedMillis: 812}},
		{Time: epoch, Kind: proto.TxBulkData, Bulk: cycling.Session{AccumulatedMillis: 60_000, CycleCount: 70}},
	}, got.get())

	st := c.Stats()
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(1), st.BadFrames)
	assert.Equal(t, uint64(1), st.SkippedBytes)
}

func TestUploadAcknowledged(t *testing.T) {
	dev := newFakeDevice(t, true)
	c, _ := startClient(t, dev, nil)
	chunks := testChunks(3)

	var progress []int
	err := c.Upload(context.Background(), chunks, UploadOptions{
		AckTimeout: time.Second,
		Progress:   func(accepted, total int) { progress = append(progress, accepted) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, progress)

	img := dev.image(t)
	require.Equal(t, 3, img.Len())
	assert.Equal(t, chunks[2], *img.Chunk(2))
}

func TestUploadResendsInvalidRecord(t *testing.T) {
	dev := newFakeDevice(t, true)
	dev.corrupt = 2
	c, _ := startClient(t, dev, nil)

	require.NoError(t, c.Upload(context.Background(), testChunks(2), UploadOptions{AckTimeout: time.Second}))
	assert.Equal(t, 2, dev.image(t).Len())
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	dev := newFakeDevice(t, true)
	dev.corrupt = 10
	c, _ := startClient(t, dev, nil)

	err := c.Upload(context.Background(), testChunks(2), UploadOptions{AckTimeout: time.Second, Retries: 2})
	assert.ErrorIs(t, err, ErrTooManyRetries)
}

func TestUploadRejected(t *testing.T) {
	dev := newFakeDevice(t, false)
	c, _ := startClient(t, dev, nil)

	err := c.Upload(context.Background(), testChunks(1), UploadOptions{AckTimeout: time.Second})
	assert.ErrorIs(t, err, ErrUpdateRejected)
}

func TestUploadEmptyImage(t *testing.T) {
	var port bytes.Buffer
	c := New(&port, Options{Log: quietLog()})
	err := c.Upload(context.Background(), nil, UploadOptions{})
	assert.ErrorIs(t, err, update.ErrEmptyImage)
	assert.Zero(t, port.Len(), "nothing sent for an empty image")
}

func TestUploadTooManyChunks(t *testing.T) {
	c := New(&bytes.Buffer{}, Options{Log: quietLog()})
	err := c.Upload(context.Background(), make([]update.Chunk, update.MaxChunkCount+1), UploadOptions{})
	assert.ErrorIs(t, err, update.ErrTooManyChunks)
}

type silentPort struct {
	pr *io.PipeReader
}

func (p silentPort) Read(b []byte) (int, error)  { return p.pr.Read(b) }
func (silentPort) Write(b []byte) (int, error) { return len(b), nil }

func TestUploadAckTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	c, _ := startClient(t, silentPort{pr: pr}, nil)

	err := c.Upload(context.Background(), testChunks(1), UploadOptions{AckTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrAckTimeout)
}

func TestTrackerLiveRide(t *testing.T) {
	tr := NewTracker(2.0)
	_, had := tr.Begin(epoch)
	assert.False(t, had)

	s := tr.Live(Event{Time: epoch.Add(time.Second), Kind: proto.TxLiveData, Live: cycling.CycleEvent{ElapsedMillis: 1000}})
	assert.InDelta(t, 7.2, s.SpeedKPH, 1e-9)
	assert.Equal(t, time.Second, s.Elapsed)
	assert.Equal(t, uint16(1), s.Ride.Session.CycleCount)

	sample, ride := tr.Handle(Event{Time: epoch.Add(1500 * time.Millisecond), Kind: proto.TxLiveData, Live: cycling.CycleEvent{ElapsedMillis: 500}})
	require.NotNil(t, sample)
	assert.Nil(t, ride)
	assert.InDelta(t, 14.4, sample.SpeedKPH, 1e-9)

	r, ok := tr.Finish(epoch.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, SourceLive, r.Source)
	assert.Equal(t, cycling.Session{AccumulatedMillis: 1500, CycleCount: 2}, r.Session)
	assert.InDelta(t, 4.0, r.Distance, 1e-9)
	assert.Equal(t, epoch.Add(time.Minute), r.Ended)

	_, ok = tr.Current()
	assert.False(t, ok)
}

func TestTrackerOfflineRide(t *testing.T) {
	tr := NewTracker(0)
	sample, ride := tr.Handle(Event{Time: epoch, Kind: proto.TxBulkData, Bulk: cycling.Session{AccumulatedMillis: 90_000, CycleCount: 100}})
	assert.Nil(t, sample)
	require.NotNil(t, ride)
	assert.Equal(t, SourceOffline, ride.Source)
	assert.Equal(t, epoch.Add(-90*time.Second), ride.Started)
	assert.InDelta(t, 100*DefaultCircumference, ride.Distance, 1e-9)
}

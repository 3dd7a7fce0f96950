// Package hostlink drives a gocycling sensor from the host side of the
// serial link: session control, the live cycle feed and firmware upload.
package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/update"
)

var (
	// ErrUpdateRejected is returned when the device refuses a firmware transfer.
	ErrUpdateRejected = errors.New("hostlink: update rejected")
	// ErrAckTimeout is returned when the device does not acknowledge a record.
	ErrAckTimeout = errors.New("hostlink: acknowledgement timeout")
	// ErrTooManyRetries is returned when one record keeps failing validation.
	ErrTooManyRetries = errors.New("hostlink: too many retries")
	// ErrUnexpectedAck is returned for an acknowledgement that does not match
	// the record in flight.
	ErrUnexpectedAck = errors.New("hostlink: unexpected acknowledgement")
)

const (
	DefaultAckTimeout = 5 * time.Second
	DefaultRetries    = 3
)

// Event is one data command received from the device.
type Event struct {
	Time time.Time
	Kind proto.TxKind
	Live cycling.CycleEvent
	Bulk cycling.Session
}

// Stats counts receive outcomes.
type Stats struct {
	Frames       uint64
	BadFrames    uint64
	SkippedBytes uint64
	DroppedAcks  uint64
}

type Options struct {
	Log *logrus.Entry
	// OnEvent is called from Run for every LiveData and BulkData command.
	OnEvent func(Event)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Client speaks the device protocol over rw. Run must be active for events
// and upload acknowledgements to be delivered.
type Client struct {
	rw      io.ReadWriter
	log     *logrus.Entry
	onEvent func(Event)
	now     func() time.Time

	wmu  sync.Mutex
	acks chan proto.UpdateStatus

	smu   sync.Mutex
	stats Stats
}

func New(rw io.ReadWriter, opts Options) *Client {
	c := &Client{
		rw:      rw,
		log:     opts.Log,
		onEvent: opts.OnEvent,
		now:     opts.Now,
		acks:    make(chan proto.UpdateStatus, 4),
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Run reads device frames until ctx is done or the reader fails. A reader
// that reaches io.EOF ends Run with a nil error.
func (c *Client) Run(ctx context.Context) error {
	asm := proto.NewTxAssembler()
	var buf [64]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.rw.Read(buf[:])
		for _, b := range buf[:n] {
			c.feed(&asm, b)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("hostlink: read: %w", err)
		}
	}
}

func (c *Client) feed(asm *proto.Assembler, b byte) {
	frame, ok, err := asm.Feed(b)
	switch {
	case errors.Is(err, proto.ErrUnknownCommand):
		c.count(func(s *Stats) { s.SkippedBytes++ })
		return
	case err != nil:
		c.count(func(s *Stats) { s.BadFrames++ })
		c.log.WithError(err).Debug("bad frame")
		return
	case !ok:
		return
	}

	cmd, err := proto.DecodeTx(frame)
	if err != nil {
		c.count(func(s *Stats) { s.BadFrames++ })
		c.log.WithError(err).Debug("bad frame")
		return
	}
	c.count(func(s *Stats) { s.Frames++ })

	if cmd.Kind == proto.TxUpdateStatus {
		select {
		case c.acks <- cmd.Update:
		default:
			c.count(func(s *Stats) { s.DroppedAcks++ })
			c.log.WithField("code", cmd.Update.Code).Warn("update status dropped")
		}
		return
	}
	if c.onEvent != nil {
		c.onEvent(Event{Time: c.now(), Kind: cmd.Kind, Live: cmd.Live, Bulk: cmd.Bulk})
	}
}

func (c *Client) count(f func(*Stats)) {
	c.smu.Lock()
	f(&c.stats)
	c.smu.Unlock()
}

// Stats returns a copy of the receive counters.
func (c *Client) Stats() Stats {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.stats
}

func (c *Client) send(cmd proto.RxCommand) error {
	frame, err := proto.AppendRx(nil, cmd)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("hostlink: write %s: %w", cmd.Kind, err)
	}
	c.log.WithField("cmd", cmd.Kind.String()).Debug("sent")
	return nil
}

// StartSession starts a live session. A non-zero t sets the device clock.
func (c *Client) StartSession(t time.Time) error {
	cmd := proto.RxCommand{Kind: proto.RxStartSession}
	if !t.IsZero() {
		cmd.Start = proto.DateTimeFromTime(t)
	}
	return c.send(cmd)
}

func (c *Client) StopSession() error {
	return c.send(proto.RxCommand{Kind: proto.RxStopSession})
}

// ContinueSession resumes the ride the device aggregated while offline.
func (c *Client) ContinueSession() error {
	return c.send(proto.RxCommand{Kind: proto.RxContinueSession})
}

// Handshake announces the host. With sessionActive set the device hands
// over any offline ride as BulkData.
func (c *Client) Handshake(sessionActive bool) error {
	return c.send(proto.RxCommand{Kind: proto.RxHandshake, SessionActive: sessionActive})
}

type UploadOptions struct {
	AckTimeout time.Duration
	// Retries bounds resends of one record after ChunkInvalid.
	Retries int
	// Progress is called after every accepted record.
	Progress func(accepted, total int)
}

// Upload streams chunks as one firmware transfer and waits for the device
// to acknowledge each record before sending the next.
func (c *Client) Upload(ctx context.Context, chunks []update.Chunk, opts UploadOptions) error {
	if len(chunks) == 0 {
		return fmt.Errorf("hostlink: %w", update.ErrEmptyImage)
	}
	if len(chunks) > update.MaxChunkCount {
		return fmt.Errorf("hostlink: %d chunks: %w", len(chunks), update.ErrTooManyChunks)
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	c.drainAcks()

	if err := c.send(proto.RxCommand{Kind: proto.RxBeginUpdate, ChunkCount: uint16(len(chunks))}); err != nil {
		return err
	}
	log := c.log.WithField("chunks", len(chunks))
	log.Info("update started")

	var rec []byte
	for i := 0; i < len(chunks); {
		rec = update.AppendRecord(rec[:0], &chunks[i])
		var st proto.UpdateStatus
		for attempt := 0; ; attempt++ {
			if attempt > opts.Retries {
				return fmt.Errorf("hostlink: chunk %d: %w", i, ErrTooManyRetries)
			}
			if err := c.write(rec); err != nil {
				return err
			}
			var err error
			st, err = c.waitAck(ctx, opts.AckTimeout)
			if err != nil {
				return fmt.Errorf("hostlink: chunk %d: %w", i, err)
			}
			if st.Code != proto.UpdateChunkInvalid {
				break
			}
			log.WithField("chunk", i).Warn("chunk invalid, resending")
		}

		switch st.Code {
		case proto.UpdateRejected:
			return ErrUpdateRejected
		case proto.UpdateChunkDone:
			if int(st.Accepted) != i+1 {
				return fmt.Errorf("hostlink: chunk %d acknowledged as %d: %w", i, st.Accepted, ErrUnexpectedAck)
			}
		case proto.UpdateComplete:
			if i != len(chunks)-1 {
				return fmt.Errorf("hostlink: complete after chunk %d of %d: %w", i, len(chunks), ErrUnexpectedAck)
			}
		default:
			return fmt.Errorf("hostlink: status %s: %w", st.Code, ErrUnexpectedAck)
		}
		i++
		if opts.Progress != nil {
			opts.Progress(i, len(chunks))
		}
		if st.Code == proto.UpdateComplete {
			if err := checkFinal(st, len(chunks)); err != nil {
				return err
			}
			log.Info("update complete")
			return nil
		}
	}
	return fmt.Errorf("hostlink: no completion after %d chunks: %w", len(chunks), ErrUnexpectedAck)
}

func checkFinal(st proto.UpdateStatus, total int) error {
	switch {
	case st.Code == proto.UpdateRejected:
		return ErrUpdateRejected
	case st.Code != proto.UpdateComplete || int(st.Accepted) != total:
		return fmt.Errorf("hostlink: final status %s with %d accepted: %w", st.Code, st.Accepted, ErrUnexpectedAck)
	}
	return nil
}

func (c *Client) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(b); err != nil {
		return fmt.Errorf("hostlink: write record: %w", err)
	}
	return nil
}

func (c *Client) waitAck(ctx context.Context, timeout time.Duration) (proto.UpdateStatus, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case st := <-c.acks:
		return st, nil
	case <-t.C:
		return proto.UpdateStatus{}, ErrAckTimeout
	case <-ctx.Done():
		return proto.UpdateStatus{}, ctx.Err()
	}
}

func (c *Client) drainAcks() {
	for {
		select {
		case <-c.acks:
		default:
			return
		}
	}
}

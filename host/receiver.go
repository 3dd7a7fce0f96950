package host

import (
	"errors"

	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/proto"
	"github.com/Pjottos/gocycling-controller/update"
)

// DropChecksum is the kernel.EventDropped reason for a frame with a bad CRC8.
const DropChecksum uint32 = 1

// RxStats counts receive path outcomes.
type RxStats struct {
	Frames         uint32
	UnknownBytes   uint32
	ChecksumErrors uint32
	UpdateBytes    uint32
}

// Receiver is the UART receive interrupt path. It assembles frames, forwards
// validated commands to the main loop through the event mailbox, and while a
// firmware transfer is running feeds raw bytes to the update decoder.
type Receiver struct {
	asm    proto.Assembler
	events *kernel.Mailbox
	tx     *TxQueue
	dec    *update.Decoder

	updating bool
	done     bool
	stats    RxStats
}

// NewReceiver returns a Receiver. dec may be nil, in which case firmware
// transfers are rejected.
func NewReceiver(events *kernel.Mailbox, tx *TxQueue, dec *update.Decoder) *Receiver {
	return &Receiver{
		asm:    proto.NewRxAssembler(),
		events: events,
		tx:     tx,
		dec:    dec,
	}
}

// OnByte is the receive interrupt handler.
func (r *Receiver) OnByte(b byte) {
	kernel.Interrupt(func(cs *kernel.Section) { r.Feed(cs, b) })
}

// Feed processes one received byte.
func (r *Receiver) Feed(cs *kernel.Section, b byte) {
	if r.updating {
		r.feedUpdate(cs, b)
		return
	}

	frame, ok, err := r.asm.Feed(b)
	switch {
	case errors.Is(err, proto.ErrUnknownCommand):
		r.stats.UnknownBytes++
		return
	case errors.Is(err, proto.ErrChecksum):
		r.stats.ChecksumErrors++
		r.events.TrySend(kernel.Event{Kind: kernel.EventDropped, Value: DropChecksum})
		return
	case !ok:
		return
	}
	r.stats.Frames++

	if proto.RxKind(frame[0]) == proto.RxBeginUpdate {
		r.beginUpdate(cs, frame)
	}

	ev := kernel.Event{Kind: kernel.EventCommand, Len: uint8(len(frame))}
	copy(ev.Data[:], frame)
	// A full mailbox drops the command; Mailbox.Dropped counts it.
	r.events.TrySend(ev)
}

func (r *Receiver) beginUpdate(cs *kernel.Section, frame []byte) {
	cmd, err := proto.DecodeRx(frame)
	if err != nil || cmd.ChunkCount == 0 || r.dec == nil || r.dec.Reset(int(cmd.ChunkCount)) != nil {
		_ = r.tx.Push(cs, proto.UpdateReply(proto.UpdateRejected, 0))
		return
	}
	r.updating = true
	r.done = false
}

func (r *Receiver) feedUpdate(cs *kernel.Section, b byte) {
	if r.done {
		return
	}
	r.stats.UpdateBytes++

	st := r.dec.Feed(b)
	accepted := uint16(r.dec.Accepted())
	switch st {
	case update.ChunkDone:
		_ = r.tx.Push(cs, proto.UpdateReply(proto.UpdateChunkDone, accepted))
	case update.ChunkInvalid:
		_ = r.tx.Push(cs, proto.UpdateReply(proto.UpdateChunkInvalid, accepted))
	case update.Complete:
		r.finishUpdate(cs)
	}
}

func (r *Receiver) finishUpdate(cs *kernel.Section) {
	r.done = true
	accepted := uint16(r.dec.Accepted())
	_ = r.tx.Push(cs, proto.UpdateReply(proto.UpdateComplete, accepted))
	r.events.TrySend(kernel.Event{Kind: kernel.EventUpdate, Value: uint32(update.Complete), Aux: accepted})
}

// Image returns the received firmware image once the transfer completed.
func (r *Receiver) Image(_ *kernel.Section) (update.Image, bool) {
	if !r.done || r.dec == nil {
		return update.Image{}, false
	}
	return r.dec.Image()
}

// Updating reports whether a firmware transfer owns the receive path.
func (r *Receiver) Updating(_ *kernel.Section) bool {
	return r.updating
}

// Abort ends a running or finished transfer and tells the host it was
// rejected. Receive goes back to command frames.
func (r *Receiver) Abort(cs *kernel.Section) {
	if !r.updating {
		return
	}
	var accepted uint16
	if r.dec != nil {
		accepted = uint16(r.dec.Accepted())
	}
	r.endUpdate()
	_ = r.tx.Push(cs, proto.UpdateReply(proto.UpdateRejected, accepted))
}

// Reset drops partial frames and any transfer, finished or not.
func (r *Receiver) Reset(_ *kernel.Section) {
	r.asm.Reset()
	r.endUpdate()
}

func (r *Receiver) endUpdate() {
	r.updating = false
	r.done = false
	if r.dec != nil {
		_ = r.dec.Reset(0)
	}
}

// Stats returns a copy of the receive counters.
func (r *Receiver) Stats(_ *kernel.Section) RxStats {
	return r.stats
}

package kernel

import (
	"runtime"
	"sync/atomic"
)

// MaxEventBytes is the maximum payload size carried by an Event.
const MaxEventBytes = 8

// EventKind identifies what an interrupt handler observed.
type EventKind uint8

const (
	EventNone EventKind = iota
	// EventCycle carries a debounced cycle; Value is the elapsed milliseconds.
	EventCycle
	// EventLink carries the link pin level in Flag.
	EventLink
	// EventAlarm reports an expired reconnect alarm; Value is its generation.
	EventAlarm
	// EventCommand carries one validated host frame in Data[:Len].
	EventCommand
	// EventUpdate reports a firmware decoder status in Value and the accepted
	// chunk count in Aux.
	EventUpdate
	// EventDropped reports that the RX path discarded a frame; Value is the reason.
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventCycle:
		return "cycle"
	case EventLink:
		return "link"
	case EventAlarm:
		return "alarm"
	case EventCommand:
		return "command"
	case EventUpdate:
		return "update"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event is a fixed-size record handed from interrupt context to the main loop.
type Event struct {
	Kind  EventKind
	Flag  bool
	Len   uint8
	Aux   uint16
	Value uint32
	Data  [MaxEventBytes]byte
}

// Payload returns the valid part of Data.
func (e *Event) Payload() []byte {
	n := int(e.Len)
	if n > MaxEventBytes {
		n = MaxEventBytes
	}
	return e.Data[:n]
}

// MailboxSlots is the mailbox capacity. It must stay a power of two so slot
// indexes survive counter wrap-around.
const MailboxSlots = 64

type mailboxSlot struct {
	// seq is stored relative to the slot index so the zero value is an empty
	// mailbox.
	seq atomic.Uint32
	ev  Event
}

// Mailbox is a fixed-size multi-producer, single-consumer event queue.
// It never allocates and never blocks in TrySend, so interrupt handlers may
// use it.
type Mailbox struct {
	_       [0]func() // prevent accidental copying.
	head    atomic.Uint32
	tail    atomic.Uint32
	dropped atomic.Uint32
	slots   [MailboxSlots]mailboxSlot
}

// TrySend attempts to enqueue an event, returning false if the mailbox is full.
func (mb *Mailbox) TrySend(ev Event) bool {
	for {
		head := mb.head.Load()
		idx := head % MailboxSlots
		slot := &mb.slots[idx]
		seq := slot.seq.Load() + idx

		switch diff := int32(seq - head); {
		case diff == 0:
			// Reserve the slot, then publish it.
			if mb.head.CompareAndSwap(head, head+1) {
				slot.ev = ev
				slot.seq.Store(head + 1 - idx)
				return true
			}
		case diff < 0:
			mb.dropped.Add(1)
			return false
		}
	}
}

// Send enqueues an event, blocking until it succeeds. Not for interrupt context.
func (mb *Mailbox) Send(ev Event) {
	for !mb.TrySend(ev) {
		runtime.Gosched()
	}
}

// TryRecv attempts to dequeue one event, returning false if empty.
func (mb *Mailbox) TryRecv() (Event, bool) {
	tail := mb.tail.Load()
	idx := tail % MailboxSlots
	slot := &mb.slots[idx]
	if int32(slot.seq.Load()+idx-(tail+1)) < 0 {
		return Event{}, false
	}

	ev := slot.ev
	slot.seq.Store(tail + MailboxSlots - idx)
	mb.tail.Store(tail + 1)
	return ev, true
}

// Recv blocks until one event is available.
func (mb *Mailbox) Recv() Event {
	for {
		ev, ok := mb.TryRecv()
		if ok {
			return ev
		}
		runtime.Gosched()
	}
}

// Len reports the number of queued events.
func (mb *Mailbox) Len() int {
	return int(mb.head.Load() - mb.tail.Load())
}

// Dropped reports how many TrySend calls found the mailbox full.
func (mb *Mailbox) Dropped() uint32 {
	return mb.dropped.Load()
}

package host

import (
	"errors"

	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/proto"
)

// TxQueueCapacity is the number of commands each half of a TxQueue holds.
const TxQueueCapacity = 32

// ErrQueueFull is returned by Push when the current half is saturated.
var ErrQueueFull = errors.New("host: transmit queue full")

type txBuffer struct {
	cmds [TxQueueCapacity]proto.TxCommand
	n    int
}

// TxQueue is a double-buffered transmit queue. Producers append to the
// current half inside a critical section; the single consumer flips halves
// inside one short critical section and then walks the previous half without
// holding it, so serial writes never run with interrupts masked.
type TxQueue struct {
	bufs    [2]txBuffer
	cur     int
	dropped uint32
}

// Push appends cmd to the current half.
func (q *TxQueue) Push(_ *kernel.Section, cmd proto.TxCommand) error {
	b := &q.bufs[q.cur]
	if b.n == TxQueueCapacity {
		q.dropped++
		return ErrQueueFull
	}
	b.cmds[b.n] = cmd
	b.n++
	return nil
}

// Len reports the number of commands waiting in the current half.
func (q *TxQueue) Len(_ *kernel.Section) int {
	return q.bufs[q.cur].n
}

// Dropped reports how many pushes failed with ErrQueueFull.
func (q *TxQueue) Dropped(_ *kernel.Section) uint32 {
	return q.dropped
}

// Drain swaps halves and calls fn for every command of the previous half in
// push order. fn runs outside the critical section. Every command is handed
// to fn exactly once even if fn fails; the first error is returned.
// Drain must only be called from the main loop.
func (q *TxQueue) Drain(fn func(cmd proto.TxCommand) error) error {
	prev := kernel.Run(func(*kernel.Section) *txBuffer {
		b := &q.bufs[q.cur]
		q.cur ^= 1
		return b
	})

	var first error
	for i := 0; i < prev.n; i++ {
		if err := fn(prev.cmds[i]); err != nil && first == nil {
			first = err
		}
	}
	prev.n = 0
	return first
}

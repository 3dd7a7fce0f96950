package host

import (
	"fmt"
	"io"

	"github.com/Pjottos/gocycling-controller/cycling"
)

// LostBufferSize is how many cycles are kept for replay while the link is
// down during a session.
const LostBufferSize = 64

// Connection exists exactly while UART receive is enabled. It owns the
// receive handle so that enabling and disabling can not drift from it.
type Connection struct {
	SessionStarted bool
	LinkLost       bool
	Session        cycling.Session

	rx    io.Closer
	lost  [LostBufferSize]cycling.CycleEvent
	nlost int
}

// Buffered returns the number of cycles waiting for replay.
func (c Connection) Buffered() int { return c.nlost }

func (c Connection) String() string {
	return fmt.Sprintf("started=%t lost=%t buffered=%d %s", c.SessionStarted, c.LinkLost, c.nlost, c.Session)
}

func (c *Connection) snapshot() Connection {
	s := *c
	s.rx = nil
	return s
}

func (c *Connection) bufferLost(ev cycling.CycleEvent) bool {
	if c.nlost == len(c.lost) {
		return false
	}
	c.lost[c.nlost] = ev
	c.nlost++
	return true
}

func (c *Connection) takeLost() []cycling.CycleEvent {
	out := append([]cycling.CycleEvent(nil), c.lost[:c.nlost]...)
	c.nlost = 0
	return out
}

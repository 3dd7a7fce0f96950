// Package offline keeps the ride going while no host is connected.
package offline

import (
	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/kernel"
	"github.com/Pjottos/gocycling-controller/state"
)

// Aggregator folds cycles into at most one offline Session until a host
// takes it over.
type Aggregator struct {
	state    *state.Store
	debounce *cycling.Debouncer

	session cycling.Session
	active  bool
	dropped uint32
}

// New returns an empty Aggregator.
func New(st *state.Store, d *cycling.Debouncer) *Aggregator {
	return &Aggregator{state: st, debounce: d}
}

// Start begins a fresh offline session at nowMicros, discarding any held one.
func (a *Aggregator) Start(cs *kernel.Section, nowMicros uint64) {
	a.session = cycling.Session{}
	a.active = true
	a.debounce.Reset(cs, nowMicros)
	a.state.Set(cs, state.Running(state.HueOffline))
}

// Continue adopts s, typically a session whose host link timed out. A
// session already held is merged into it. When the two do not fit one
// Session the held one is kept, the cycles of s are counted as dropped and
// cycling.ErrSessionFull is returned.
func (a *Aggregator) Continue(cs *kernel.Section, s cycling.Session) error {
	a.state.Set(cs, state.Running(state.HueOffline))
	if !a.active {
		a.session = s
		a.active = true
		return nil
	}
	if err := a.session.Merge(s); err != nil {
		a.dropped += uint32(s.CycleCount)
		return err
	}
	return nil
}

// Add folds ev into the held session, starting one when there is none. It
// leaves the program state alone; the caller owns the status hue. On
// cycling.ErrSessionFull the event is dropped and the session kept.
func (a *Aggregator) Add(_ *kernel.Section, ev cycling.CycleEvent) error {
	if !a.active {
		a.session = cycling.Session{}
		a.active = true
	}
	if err := a.session.Add(ev); err != nil {
		a.dropped++
		return err
	}
	return nil
}

// Take removes and returns the held session.
func (a *Aggregator) Take(_ *kernel.Section) (cycling.Session, bool) {
	if !a.active {
		return cycling.Session{}, false
	}
	s := a.session
	a.session = cycling.Session{}
	a.active = false
	return s, true
}

// Peek returns the held session without removing it.
func (a *Aggregator) Peek(_ *kernel.Section) (cycling.Session, bool) {
	return a.session, a.active
}

// Dropped returns how many cycles were lost to a full session.
func (a *Aggregator) Dropped(_ *kernel.Section) uint32 {
	return a.dropped
}

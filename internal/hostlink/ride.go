package hostlink

import (
	"sync"
	"time"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/proto"
)

// DefaultCircumference is a 700x25c wheel in metres.
const DefaultCircumference = 2.105

// Source tells how a ride reached the host.
type Source string

const (
	SourceLive    Source = "live"
	SourceOffline Source = "offline"
)

// Ride is the host's record of one session.
type Ride struct {
	Source   Source
	Started  time.Time
	Ended    time.Time
	Session  cycling.Session
	Distance float64 // metres
	// Dropped counts live cycles that did not fit the session.
	Dropped int
}

// Sample is the state after one live cycle.
type Sample struct {
	Time     time.Time
	Elapsed  time.Duration
	SpeedKPH float64
	Ride     Ride
}

// Tracker folds device events into rides.
type Tracker struct {
	circumference float64

	mu   sync.Mutex
	live *Ride
}

func NewTracker(circumference float64) *Tracker {
	if circumference <= 0 {
		circumference = DefaultCircumference
	}
	return &Tracker{circumference: circumference}
}

// Begin opens a live ride at t, returning the previous one if any.
func (t *Tracker) Begin(at time.Time) (Ride, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.finishLocked(at)
	t.live = &Ride{Source: SourceLive, Started: at, Ended: at}
	return prev, ok
}

// Finish closes the live ride.
func (t *Tracker) Finish(at time.Time) (Ride, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishLocked(at)
}

func (t *Tracker) finishLocked(at time.Time) (Ride, bool) {
	if t.live == nil {
		return Ride{}, false
	}
	r := *t.live
	if at.After(r.Ended) {
		r.Ended = at
	}
	t.live = nil
	return r, true
}

// Current returns a copy of the live ride.
func (t *Tracker) Current() (Ride, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		return Ride{}, false
	}
	return *t.live, true
}

// Live folds a LiveData event into the current ride, opening one if none is
// running.
func (t *Tracker) Live(ev Event) Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		t.live = &Ride{Source: SourceLive, Started: ev.Time}
	}
	r := t.live
	if err := r.Session.Add(ev.Live); err != nil {
		r.Dropped++
	} else {
		r.Distance += t.circumference
	}
	r.Ended = ev.Time

	s := Sample{
		Time:    ev.Time,
		Elapsed: time.Duration(ev.Live.ElapsedMillis) * time.Millisecond,
		Ride:    *r,
	}
	if ev.Live.ElapsedMillis > 0 {
		s.SpeedKPH = t.circumference / s.Elapsed.Seconds() * 3.6
	}
	return s
}

// Offline turns a BulkData event into a finished ride that ended when it was
// handed over.
func (t *Tracker) Offline(ev Event) Ride {
	d := time.Duration(ev.Bulk.AccumulatedMillis) * time.Millisecond
	return Ride{
		Source:   SourceOffline,
		Started:  ev.Time.Add(-d),
		Ended:    ev.Time,
		Session:  ev.Bulk,
		Distance: float64(ev.Bulk.CycleCount) * t.circumference,
	}
}

// Handle dispatches ev to Live or Offline and reports what changed. At most
// one of the results is set.
func (t *Tracker) Handle(ev Event) (*Sample, *Ride) {
	switch ev.Kind {
	case proto.TxLiveData:
		s := t.Live(ev)
		return &s, nil
	case proto.TxBulkData:
		r := t.Offline(ev)
		return nil, &r
	}
	return nil, nil
}

// Package cycling turns wheel sensor edges into cycle events and folds them
// into ride sessions.
package cycling

import (
	"errors"
	"fmt"
	"math"
)

// ErrSessionFull is returned when a cycle would overflow a Session field.
var ErrSessionFull = errors.New("cycling: session full")

// CycleEvent is one debounced wheel rotation.
type CycleEvent struct {
	// ElapsedMillis is the time since the previous accepted rotation.
	ElapsedMillis uint32
}

// Session is the aggregate of one continuous ride.
type Session struct {
	AccumulatedMillis uint32
	CycleCount        uint16
}

// Add folds ev into s. On overflow of either field s is left unchanged and
// ErrSessionFull is returned.
func (s *Session) Add(ev CycleEvent) error {
	if s.CycleCount == math.MaxUint16 {
		return ErrSessionFull
	}
	if s.AccumulatedMillis > math.MaxUint32-ev.ElapsedMillis {
		return ErrSessionFull
	}
	s.CycleCount++
	s.AccumulatedMillis += ev.ElapsedMillis
	return nil
}

// Merge folds o into s. On overflow s is left unchanged and ErrSessionFull
// is returned.
func (s *Session) Merge(o Session) error {
	if s.CycleCount > math.MaxUint16-o.CycleCount {
		return ErrSessionFull
	}
	if s.AccumulatedMillis > math.MaxUint32-o.AccumulatedMillis {
		return ErrSessionFull
	}
	s.CycleCount += o.CycleCount
	s.AccumulatedMillis += o.AccumulatedMillis
	return nil
}

func (s Session) String() string {
	return fmt.Sprintf("%d cycles in %dms", s.CycleCount, s.AccumulatedMillis)
}

package hal

import (
	"testing"
	"time"
)

func TestCadenceLevel(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	// 60 rpm: one revolution per second, high for the first 250ms.
	c := newCadenceWithClock("SENSOR", 60, clock)
	if c == nil {
		t.Fatal("expected cadence")
	}
	if !c.Level() {
		t.Fatal("expected high at t=0")
	}

	now = now.Add(300 * time.Millisecond)
	if c.Level() {
		t.Fatal("expected low at t=300ms")
	}

	now = now.Add(800 * time.Millisecond) // t=1.1s => phase 100ms, high again
	if !c.Level() {
		t.Fatal("expected high at t=1.1s")
	}
}

func TestCadenceRejectsZeroRate(t *testing.T) {
	if c := newCadence("SENSOR", 0); c != nil {
		t.Fatal("expected nil cadence for 0 rpm")
	}
}

func TestSimPinEdges(t *testing.T) {
	p := newSimPin("LINK", false)

	var got []bool
	if err := p.SetInterrupt(EdgeRising, func(level bool) { got = append(got, level) }); err != nil {
		t.Fatalf("SetInterrupt: %v", err)
	}

	p.Drive(true)
	p.Drive(true)
	p.Drive(false)
	p.Toggle()

	if len(got) != 2 || !got[0] || !got[1] {
		t.Fatalf("rising edges = %v, want [true true]", got)
	}
	if !p.Read() {
		t.Fatal("expected high after toggle")
	}
}

func TestSimPinPulse(t *testing.T) {
	p := newSimPin("SENSOR", true)

	falls := 0
	if err := p.SetInterrupt(EdgeFalling, func(bool) { falls++ }); err != nil {
		t.Fatalf("SetInterrupt: %v", err)
	}
	p.Pulse()
	p.Pulse()

	if falls != 2 {
		t.Fatalf("falls = %d, want 2", falls)
	}
	if !p.Read() {
		t.Fatal("pulse must return to idle level")
	}
}

func TestSimPinRejectsBadEdgeMask(t *testing.T) {
	p := newSimPin("X", false)
	if err := p.SetInterrupt(Edge(0x80), nil); err == nil {
		t.Fatal("expected error")
	}
}

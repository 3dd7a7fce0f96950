package cycling

import "github.com/Pjottos/gocycling-controller/kernel"

// MinCycleMicros is the shortest gap between two accepted edges.
const MinCycleMicros = 50_000

// Debouncer accepts at most one sensor edge per MinCycleMicros window.
// It is shared between the sensor interrupt and the main loop.
type Debouncer struct {
	last uint64
	min  uint64
}

// NewDebouncer returns a Debouncer with the given threshold. A zero threshold
// selects MinCycleMicros.
func NewDebouncer(minMicros uint64) *Debouncer {
	if minMicros == 0 {
		minMicros = MinCycleMicros
	}
	return &Debouncer{min: minMicros}
}

// Edge records a raw sensor edge seen at nowMicros and reports the resulting
// cycle, if any.
func (d *Debouncer) Edge(_ *kernel.Section, nowMicros uint64) (CycleEvent, bool) {
	if nowMicros < d.last {
		// Clock went backwards; treat as a reset.
		d.last = nowMicros
		return CycleEvent{}, false
	}
	delta := nowMicros - d.last
	if delta < d.min {
		return CycleEvent{}, false
	}
	d.last = nowMicros

	millis := delta / 1000
	if millis > uint64(^uint32(0)) {
		millis = uint64(^uint32(0))
	}
	return CycleEvent{ElapsedMillis: uint32(millis)}, true
}

// Reset moves the reference timestamp to nowMicros.
func (d *Debouncer) Reset(_ *kernel.Section, nowMicros uint64) {
	d.last = nowMicros
}

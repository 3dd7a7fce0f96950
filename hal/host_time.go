//go:build !tinygo

package hal

import (
	"sync"
	"time"
)

type hostTime struct {
	t0 time.Time
}

func newHostTime() *hostTime {
	return &hostTime{t0: time.Now()}
}

func (t *hostTime) Micros() uint64 {
	return uint64(time.Since(t.t0) / time.Microsecond)
}

type hostAlarm struct {
	mu   sync.Mutex
	t    *time.Timer
	fire func(gen uint32)
}

func (a *hostAlarm) Arm(gen uint32, after time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	a.t = time.AfterFunc(after, func() { a.fire(gen) })
}

func (a *hostAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
}

type hostRTC struct {
	mu     sync.Mutex
	offset time.Duration
	set    bool
}

func (r *hostRTC) SetTime(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = time.Until(t)
	r.set = true
	return nil
}

func (r *hostRTC) Now() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		return time.Time{}, false
	}
	return time.Now().Add(r.offset).UTC(), true
}

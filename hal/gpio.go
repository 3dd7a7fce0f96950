package hal

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// simPin is a simulated input pin. Drive changes its level and raises the
// configured edge interrupt.
type simPin struct {
	mu      sync.Mutex
	name    string
	level   bool
	edges   Edge
	handler func(level bool)
}

func newSimPin(name string, level bool) *simPin {
	return &simPin{name: name, level: level}
}

func (p *simPin) Name() string { return p.name }

func (p *simPin) Read() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *simPin) SetInterrupt(edges Edge, handler func(level bool)) error {
	if edges&^EdgeBoth != 0 {
		return fmt.Errorf("gpio: pin %s: invalid edge mask %#x", p.name, edges)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edges = edges
	p.handler = handler
	return nil
}

// Drive sets the pin level. The handler runs on the calling goroutine after
// the pin lock is released.
func (p *simPin) Drive(level bool) {
	p.mu.Lock()
	if p.level == level {
		p.mu.Unlock()
		return
	}
	p.level = level
	edge := EdgeFalling
	if level {
		edge = EdgeRising
	}
	h := p.handler
	if p.edges&edge == 0 {
		h = nil
	}
	p.mu.Unlock()

	if h != nil {
		h(level)
	}
}

// Toggle inverts the pin level.
func (p *simPin) Toggle() {
	p.Drive(!p.Read())
}

// Pulse drives the pin away from its idle level and back.
func (p *simPin) Pulse() {
	idle := p.Read()
	p.Drive(!idle)
	p.Drive(idle)
}

// cadence is a simulated wheel sensor: one pulse per revolution at a fixed
// rate, computed from the elapsed time since it was created.
type cadence struct {
	mu     sync.Mutex
	name   string
	t0     time.Time
	now    func() time.Time
	period time.Duration
	high   time.Duration
}

func newCadence(name string, rpm int) *cadence {
	return newCadenceWithClock(name, rpm, time.Now)
}

func newCadenceWithClock(name string, rpm int, now func() time.Time) *cadence {
	if strings.TrimSpace(name) == "" || rpm <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	period := time.Minute / time.Duration(rpm)
	return &cadence{
		name:   name,
		t0:     now(),
		now:    now,
		period: period,
		high:   period / 4,
	}
}

// Level reports whether the magnet is passing the sensor.
func (c *cadence) Level() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(c.t0)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	return elapsed%c.period < c.high
}

package kernel

// Section proves that interrupts are masked for as long as the callback that
// received it is running. It carries no capability of its own; functions that
// touch state shared with interrupt handlers take a *Section to make the
// caller hold one. A Section is only obtained from Run, Do or Interrupt and
// must not be retained after the callback returns.
type Section struct {
	_     [0]func()
	state maskState
}

// Run masks interrupts, calls fn and restores the previous mask state.
// Critical sections do not nest: code that already holds a Section passes it
// down instead of calling Run again.
func Run[T any](fn func(cs *Section) T) T {
	var cs Section
	cs.state = mask()
	defer unmask(cs.state)
	return fn(&cs)
}

// Do is Run for callbacks without a result.
func Do(fn func(cs *Section)) {
	var cs Section
	cs.state = mask()
	defer unmask(cs.state)
	fn(&cs)
}

// Interrupt runs an interrupt handler body. On hardware the handler already
// runs with other interrupts held off; on hosts this serializes simulated
// handlers against each other and against critical sections.
func Interrupt(handler func(cs *Section)) {
	Do(handler)
}

//go:build tinygo

package kernel

import "runtime/interrupt"

type maskState struct {
	s interrupt.State
}

func mask() maskState {
	return maskState{s: interrupt.Disable()}
}

func unmask(st maskState) {
	interrupt.Restore(st.s)
}

//go:build !tinygo

package kernel

import "sync"

// interruptMask stands in for the core's interrupt enable bit.
var interruptMask sync.Mutex

type maskState struct{}

func mask() maskState {
	interruptMask.Lock()
	return maskState{}
}

func unmask(maskState) {
	interruptMask.Unlock()
}

// Package state holds the coarse device mode shown by the status indicator.
package state

import (
	"fmt"

	"github.com/Pjottos/gocycling-controller/kernel"
)

// Status hues on the 0-255 rainbow wheel rendered by the indicator.
const (
	HueConnected    uint8 = 160
	HueStarted      uint8 = 96
	HueReconnecting uint8 = 32
	HueOffline      uint8 = 190
)

// Mode is the coarse device mode.
type Mode uint8

const (
	ModeAwaitingSelect Mode = iota
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeAwaitingSelect:
		return "awaiting_select"
	case ModeRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ProgramState is either AwaitingModeSelect or Running with a status hue.
// Hue is only meaningful while running.
type ProgramState struct {
	Mode Mode
	Hue  uint8
}

// AwaitingModeSelect returns the idle state.
func AwaitingModeSelect() ProgramState {
	return ProgramState{Mode: ModeAwaitingSelect}
}

// Running returns a running state with the given status hue.
func Running(hue uint8) ProgramState {
	return ProgramState{Mode: ModeRunning, Hue: hue}
}

func (s ProgramState) String() string {
	if s.Mode == ModeRunning {
		return fmt.Sprintf("running(hue=%d)", s.Hue)
	}
	return s.Mode.String()
}

// Store is the single ProgramState of a device. The zero value holds
// AwaitingModeSelect.
type Store struct {
	v ProgramState
}

// Load returns a copy of the current state.
func (s *Store) Load(_ *kernel.Section) ProgramState {
	return s.v
}

// Set replaces the current state.
func (s *Store) Set(_ *kernel.Section, v ProgramState) {
	s.v = v
}

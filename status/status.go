// Package status maps the program state to the colour of the status light.
package status

import (
	"image/color"

	"github.com/Pjottos/gocycling-controller/state"
)

// MaxBrightness caps every PWM channel level.
const MaxBrightness uint16 = 0x0CFF

const (
	third     uint8 = 85 // 256 / 3
	twoThirds       = third * 2
	rest      uint8 = 171 // 256 - third
)

// Rainbow converts a hue on the 0-255 wheel to RGB. The wheel is split into
// eight sections with roughly constant perceived brightness.
func Rainbow(hue uint8) color.RGBA {
	section := hue >> 5
	pos := (hue & 0x1F) << 3
	off := scale8(pos, third)
	off2 := scale8(pos, twoThirds)

	var r, g, b uint8
	switch section {
	case 0:
		r, g, b = 255-off, off, 0
	case 1:
		r, g, b = rest, third+off, 0
	case 2:
		r, g, b = rest-off2, twoThirds+off, 0
	case 3:
		r, g, b = 0, 255-off, off
	case 4:
		r, g, b = 0, rest-off2, third+off2
	case 5:
		r, g, b = off, 0, 255-off
	case 6:
		r, g, b = third+off, 0, rest-off
	default:
		r, g, b = twoThirds+off, 0, third-off
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func scale8(v, scale uint8) uint8 {
	return uint8(uint16(v) * (1 + uint16(scale)) / 256)
}

// Levels are 16-bit PWM duty values for the three channels of the light.
type Levels struct {
	R, G, B uint16
}

// PWM scales c to duty levels no brighter than MaxBrightness.
func PWM(c color.RGBA) Levels {
	k := MaxBrightness / 255
	if k == 0 {
		k = 1
	}
	return Levels{
		R: min(uint16(c.R)*k, MaxBrightness),
		G: min(uint16(c.G)*k, MaxBrightness),
		B: min(uint16(c.B)*k, MaxBrightness),
	}
}

// Inverted returns the levels for a common-anode light, which sinks current.
func (l Levels) Inverted() Levels {
	return Levels{R: ^l.R, G: ^l.G, B: ^l.B}
}

// Color returns the colour shown for s. The light is off while awaiting a
// mode selection.
func Color(s state.ProgramState) color.RGBA {
	if s.Mode != state.ModeRunning {
		return color.RGBA{A: 255}
	}
	return Rainbow(s.Hue)
}

//go:build !tinygo && cgo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// hostKeyboard maps keys onto the simulated pins:
//
//	Space   one wheel revolution on the sensor pin
//	L       toggle the link pin
//	Escape  close the window
type hostKeyboard struct {
	sensor *simPin
	link   *simPin
}

func newHostKeyboard(sensor, link *simPin) *hostKeyboard {
	return &hostKeyboard{sensor: sensor, link: link}
}

// poll reports whether the user asked to quit.
func (k *hostKeyboard) poll() bool {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		k.sensor.Drive(false)
	}
	if inpututil.IsKeyJustReleased(ebiten.KeySpace) {
		k.sensor.Drive(true)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyL) {
		k.link.Toggle()
	}
	return inpututil.IsKeyJustPressed(ebiten.KeyEscape)
}

//go:build tinygo && (rp2040 || rp2350)

package hal

import (
	"device/arm"
	"image/color"
)

// noScreen is the framebuffer of a board without a display.
type noScreen struct{}

func (noScreen) Size() (int, int)              { return 0, 0 }
func (noScreen) SetPixel(int, int, color.RGBA) {}
func (noScreen) Fill(color.RGBA)               {}
func (noScreen) Present() error                { return ErrNotImplemented }

// Reboot resets the core; the bootloader picks up a staged image.
func (h *tinyGoHAL) Reboot() {
	h.reboot = true
	arm.SystemReset()
}

// stubFlash stands in when the flash geometry cannot hold a staging area;
// staging an update then fails.
type stubFlash struct{}

func (stubFlash) SizeBytes() uint32                   { return 0 }
func (stubFlash) EraseBlockBytes() uint32             { return 0 }
func (stubFlash) ReadAt([]byte, uint32) (int, error)  { return 0, ErrNotImplemented }
func (stubFlash) WriteAt([]byte, uint32) (int, error) { return 0, ErrNotImplemented }
func (stubFlash) Erase(uint32, uint32) error          { return ErrNotImplemented }

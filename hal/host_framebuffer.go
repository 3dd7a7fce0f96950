//go:build !tinygo

package hal

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// hostFramebuffer draws into a back buffer owned by the main loop. Present
// publishes it to the front buffer the window reads from.
type hostFramebuffer struct {
	back *image.RGBA

	mu     sync.Mutex
	front  *image.RGBA
	frames uint64
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	r := image.Rect(0, 0, width, height)
	return &hostFramebuffer{back: image.NewRGBA(r), front: image.NewRGBA(r)}
}

func (f *hostFramebuffer) Size() (int, int) {
	b := f.back.Bounds()
	return b.Dx(), b.Dy()
}

func (f *hostFramebuffer) SetPixel(x, y int, c color.RGBA) {
	f.back.SetRGBA(x, y, c)
}

func (f *hostFramebuffer) Fill(c color.RGBA) {
	draw.Draw(f.back, f.back.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (f *hostFramebuffer) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.front.Pix, f.back.Pix)
	f.frames++
	return nil
}

// snapshot copies the presented frame into dst unless it is still the frame
// numbered seen. It returns the number of the presented frame.
func (f *hostFramebuffer) snapshot(dst []byte, seen uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames != seen {
		copy(dst, f.front.Pix)
	}
	return f.frames
}

//go:build !tinygo && cgo

package hal

import (
	"github.com/Pjottos/gocycling-controller/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
)

// RunWindow starts a desktop window that displays the framebuffer and maps
// the keyboard onto the sensor and link pins. It blocks until the window
// closes.
func RunWindow(newApp AppFactory, cfg HostConfig) error {
	h, err := newHostHAL(cfg)
	if err != nil {
		return err
	}
	defer h.close()
	step, err := newApp(h)
	if err != nil {
		return err
	}

	g := &hostGame{h: h, step: step, kbd: newHostKeyboard(h.sensor, h.link)}
	ebiten.SetWindowTitle("GoCycling (" + buildinfo.Short() + ")")
	w, ht := h.fb.Size()
	ebiten.SetWindowSize(w*3, ht*3)
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type hostGame struct {
	h     *hostHAL
	kbd   *hostKeyboard
	step  func() error
	img   *ebiten.Image
	pix   []byte
	frame uint64
}

func (g *hostGame) Update() error {
	if g.kbd.poll() {
		return ebiten.Termination
	}
	return g.step()
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	if g.img == nil {
		w, h := g.h.fb.Size()
		g.img = ebiten.NewImage(w, h)
		g.pix = make([]byte, 4*w*h)
	}
	if n := g.h.fb.snapshot(g.pix, g.frame); n != g.frame {
		g.frame = n
		g.img.WritePixels(g.pix)
	}
	screen.DrawImage(g.img, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.Size()
}

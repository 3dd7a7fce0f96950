package app

import (
	"fmt"
	"image/color"

	"github.com/Pjottos/gocycling-controller/hal"
	"github.com/Pjottos/gocycling-controller/status"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

var _ drivers.Displayer = fbDisplay{}

const (
	lineHeight = 10
	swatchSize = 24
)

var (
	fg = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	bg = color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 0xFF}
)

// screen renders the device status onto a framebuffer. It redraws only
// when the snapshot changes.
type screen struct {
	fb   hal.Framebuffer
	d    fbDisplay
	last Snapshot
	done bool
}

func newScreen(fb hal.Framebuffer) *screen {
	if fb == nil {
		return nil
	}
	if w, h := fb.Size(); w == 0 || h == 0 {
		return nil
	}
	return &screen{fb: fb, d: fbDisplay{fb: fb}}
}

func (s *screen) draw(snap Snapshot) {
	if s.done && snap == s.last {
		return
	}
	s.last, s.done = snap, true

	s.fb.Fill(bg)

	c := status.Color(snap.State)
	w, h := s.fb.Size()
	for y := 4; y < 4+swatchSize; y++ {
		for x := w - 4 - swatchSize; x < w-4; x++ {
			s.fb.SetPixel(x, y, c)
		}
	}

	lines := statusLines(snap)
	font := &proggy.TinySZ8pt7b
	y := int16(lineHeight)
	for _, line := range lines {
		if int(y) > h {
			break
		}
		tinyfont.WriteLine(s.d, font, 4, y, line, fg)
		y += lineHeight
	}
	_ = s.fb.Present()
}

func statusLines(snap Snapshot) []string {
	lines := []string{"state: " + snap.State.String()}
	if snap.Connected {
		c := snap.Connection
		link := "up"
		if c.LinkLost {
			link = "lost"
		}
		lines = append(lines,
			fmt.Sprintf("link: %s  session: %t", link, c.SessionStarted),
			"ride: "+c.Session.String(),
		)
		if c.LinkLost {
			lines = append(lines, fmt.Sprintf("buffered: %d", c.Buffered()))
		}
	} else {
		lines = append(lines, "link: down")
	}
	if snap.HasOffline {
		lines = append(lines, "offline: "+snap.Offline.String())
	}
	if snap.Updating {
		lines = append(lines, "firmware update in progress")
	}
	lines = append(lines,
		fmt.Sprintf("rx: %d frames, %d crc errors", snap.Rx.Frames, snap.Rx.ChecksumErrors),
		fmt.Sprintf("dropped: tx %d, events %d", snap.Host.TxDropped, snap.Dropped),
	)
	return lines
}

// fbDisplay adapts a framebuffer to drivers.Displayer.
type fbDisplay struct {
	fb hal.Framebuffer
}

func (d fbDisplay) Size() (x, y int16) {
	w, h := d.fb.Size()
	return int16(w), int16(h)
}

func (d fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	d.fb.SetPixel(int(x), int(y), c)
}

func (d fbDisplay) Display() error { return d.fb.Present() }

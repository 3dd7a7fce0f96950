package app

import (
	"fmt"
	"image/color"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

var panicColor = color.RGBA{R: 0xFF, A: 0xFF}

// recoverPanic reports a main loop panic on the log, the status light and
// the screen, then halts.
func (d *Device) recoverPanic() {
	v := recover()
	if v == nil {
		return
	}
	stack := debug.Stack()

	if l := d.log; l != nil {
		l.WriteLineString(fmt.Sprintf("gocycling panic: %v", v))
		for _, line := range strings.Split(string(stack), "\n") {
			if line == "" {
				continue
			}
			l.WriteLineString(line)
		}
	}
	d.h.StatusLight().Set(panicColor)

	if d.screen == nil {
		select {}
	}
	fb := d.screen.fb
	fb.Fill(color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	width, height := fb.Size()

	font := &proggy.TinySZ8pt7b
	_, outboxWidth := tinyfont.LineWidth(font, "0")
	fontWidth := int16(outboxWidth)
	if fontWidth <= 0 {
		_ = fb.Present()
		select {}
	}

	lines := []string{"panic:", fmt.Sprint(v)}
	for _, line := range strings.Split(string(stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	black := color.RGBA{A: 255}
	cols := int16(width) / fontWidth
	if cols <= 0 {
		cols = 1
	}
	y := int16(lineHeight)
	for _, line := range lines {
		for len(line) > 0 {
			if int(y) > height {
				_ = fb.Present()
				select {}
			}
			chunk, rest := takeRunes(line, cols)
			drawTextLine(d.screen.d, font, fontWidth, 0, y, chunk, black)
			y += lineHeight
			line = strings.TrimLeft(rest, " \t")
		}
	}
	_ = fb.Present()
	select {}
}

func drawTextLine(d fbDisplay, font tinyfont.Fonter, fontWidth, x0, y0 int16, s string, c color.RGBA) {
	x := x0
	for _, r := range s {
		tinyfont.DrawChar(d, font, x, y0, r, c)
		x += fontWidth
	}
}

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if int64(len(s)) <= int64(n) {
		return s, ""
	}
	var i int
	var count int16
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		if size <= 0 {
			break
		}
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}

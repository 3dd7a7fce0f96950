//go:build tinygo && (rp2040 || rp2350)

package hal

import (
	"errors"
	"fmt"
	"machine"
)

var errStageRange = errors.New("flash: outside staging area")

// stageFlash exposes the last StageAreaBytes of machine.Flash, which is the
// space past the firmware image reserved for staged updates.
type stageFlash struct {
	base  int64
	block uint32
}

func newStageFlash() Flash {
	bs := machine.Flash.EraseBlockSize()
	base := machine.Flash.Size() - StageAreaBytes
	if bs <= 0 || base < 0 || base%bs != 0 {
		return stubFlash{}
	}
	return stageFlash{base: base, block: uint32(bs)}
}

func (f stageFlash) SizeBytes() uint32       { return StageAreaBytes }
func (f stageFlash) EraseBlockBytes() uint32 { return f.block }

func (f stageFlash) check(off uint32, n int) error {
	if off >= StageAreaBytes || uint32(n) > StageAreaBytes-off {
		return fmt.Errorf("flash %d bytes at %d: %w", n, off, errStageRange)
	}
	return nil
}

func (f stageFlash) ReadAt(p []byte, off uint32) (int, error) {
	if off >= StageAreaBytes {
		return 0, fmt.Errorf("flash read at %d: %w", off, errStageRange)
	}
	if rest := StageAreaBytes - off; uint32(len(p)) > rest {
		p = p[:rest]
	}
	n, err := machine.Flash.ReadAt(p, f.base+int64(off))
	if err != nil {
		return n, fmt.Errorf("flash read at %d: %w", off, err)
	}
	return n, nil
}

func (f stageFlash) WriteAt(p []byte, off uint32) (int, error) {
	if err := f.check(off, len(p)); err != nil {
		return 0, err
	}
	n, err := machine.Flash.WriteAt(p, f.base+int64(off))
	if err != nil {
		return n, fmt.Errorf("flash write at %d: %w", off, err)
	}
	return n, nil
}

func (f stageFlash) Erase(off, size uint32) error {
	if size == 0 {
		return nil
	}
	if off%f.block != 0 || size%f.block != 0 {
		return fmt.Errorf("flash erase off=%d size=%d: unaligned: %w", off, size, errStageRange)
	}
	if err := f.check(off, int(size)); err != nil {
		return err
	}
	first := (f.base + int64(off)) / int64(f.block)
	return machine.Flash.EraseBlocks(first, int64(size/f.block))
}

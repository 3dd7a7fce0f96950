//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Pjottos/gocycling-controller/update"
)

const (
	hostFlashDefaultPath     = "gocycling.flash"
	hostFlashEraseBlockBytes = 4096
)

// ErrFlashWriteRequiresErase is returned when a write would set a bit that
// is not erased.
var ErrFlashWriteRequiresErase = errors.New("flash write requires erase")

var errFlashRange = errors.New("flash: out of range")

// hostFlash simulates the update staging area with NOR semantics: erase sets
// whole blocks to 0xFF and writes can only clear bits. The contents are kept
// in memory and written through to a file so a staged image survives the
// simulated reboot.
type hostFlash struct {
	mu   sync.Mutex
	mem  []byte
	file *os.File
}

// newHostFlash opens the backing file. The path falls back to
// $GOCYCLING_FLASH_PATH, then to gocycling.flash in the working directory.
// Without a usable file the area lives in memory only.
func newHostFlash(path string) *hostFlash {
	if path == "" {
		path = os.Getenv("GOCYCLING_FLASH_PATH")
	}
	if path == "" {
		path = hostFlashDefaultPath
	}

	f := &hostFlash{mem: make([]byte, StageAreaBytes)}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return f
	}
	if st, err := file.Stat(); err == nil && st.Size() == StageAreaBytes {
		if _, err := file.ReadAt(f.mem, 0); err != nil {
			_ = file.Close()
			return f
		}
	} else if _, err := file.WriteAt(f.mem, 0); err != nil {
		_ = file.Close()
		return f
	}
	if err := file.Truncate(StageAreaBytes); err != nil {
		_ = file.Close()
		return f
	}
	f.file = file
	return f
}

// consumeStaged plays the bootloader: a staged image left by the previous
// run is reported and its header erased.
func (f *hostFlash) consumeStaged(log *logrus.Entry) {
	f.mu.Lock()
	hdr, ok := update.ParseStageHeader(f.mem[:update.StageHeaderBytes])
	f.mu.Unlock()
	if !ok {
		return
	}
	log.WithFields(logrus.Fields{
		"base":   fmt.Sprintf("%#x", hdr.BaseAddr),
		"bytes":  hdr.Size,
		"blocks": hdr.Blocks,
		"crc":    fmt.Sprintf("%#08x", hdr.CRC32),
	}).Info("booting staged image")
	if err := f.Erase(0, hostFlashEraseBlockBytes); err != nil {
		log.WithError(err).Warn("clear staged image")
	}
}

func (f *hostFlash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *hostFlash) SizeBytes() uint32       { return StageAreaBytes }
func (f *hostFlash) EraseBlockBytes() uint32 { return hostFlashEraseBlockBytes }

func (f *hostFlash) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= StageAreaBytes {
		return 0, fmt.Errorf("flash read at %d: %w", off, errFlashRange)
	}
	return copy(p, f.mem[off:]), nil
}

func (f *hostFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= StageAreaBytes || uint32(len(p)) > StageAreaBytes-off {
		return 0, fmt.Errorf("flash write %d bytes at %d: %w", len(p), off, errFlashRange)
	}
	dst := f.mem[off : off+uint32(len(p))]
	for i := range p {
		if dst[i]&p[i] != p[i] {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	copy(dst, p)
	return len(p), f.sync(off, dst)
}

func (f *hostFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size == 0 {
		return nil
	}
	if off%hostFlashEraseBlockBytes != 0 || size%hostFlashEraseBlockBytes != 0 {
		return fmt.Errorf("flash erase off=%d size=%d: unaligned: %w", off, size, errFlashRange)
	}
	if off >= StageAreaBytes || size > StageAreaBytes-off {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, errFlashRange)
	}
	dst := f.mem[off : off+size]
	for i := range dst {
		dst[i] = 0xFF
	}
	return f.sync(off, dst)
}

func (f *hostFlash) sync(off uint32, b []byte) error {
	if f.file == nil {
		return nil
	}
	if _, err := f.file.WriteAt(b, int64(off)); err != nil {
		return fmt.Errorf("flash sync at %d: %w", off, err)
	}
	return nil
}

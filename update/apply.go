package update

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/Pjottos/gocycling-controller/kernel"
)

// StageMagic marks a staged image header ("GCUP").
const StageMagic uint32 = 0x50554347

// StageHeaderBytes is the size of the staged image header.
const StageHeaderBytes = 20

var (
	// ErrEmptyImage is returned when applying an image without blocks.
	ErrEmptyImage = errors.New("update: empty image")
	// ErrImageTooLarge is returned when the image does not fit the staging area.
	ErrImageTooLarge = errors.New("update: image too large for flash")
)

// Flash is the staging area written by Apply.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// StageHeader describes a staged image. It occupies the first erase block of
// the staging area; the image bytes start at the second erase block.
type StageHeader struct {
	BaseAddr uint32
	Size     uint32
	CRC32    uint32
	Blocks   uint32
}

// Marshal encodes h.
func (h StageHeader) Marshal() [StageHeaderBytes]byte {
	var b [StageHeaderBytes]byte
	le := binary.LittleEndian
	le.PutUint32(b[0:4], StageMagic)
	le.PutUint32(b[4:8], h.BaseAddr)
	le.PutUint32(b[8:12], h.Size)
	le.PutUint32(b[12:16], h.CRC32)
	le.PutUint32(b[16:20], h.Blocks)
	return b
}

// ParseStageHeader decodes a staged header, reporting false when the magic
// does not match.
func ParseStageHeader(b []byte) (StageHeader, bool) {
	if len(b) < StageHeaderBytes {
		return StageHeader{}, false
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:4]) != StageMagic {
		return StageHeader{}, false
	}
	return StageHeader{
		BaseAddr: le.Uint32(b[4:8]),
		Size:     le.Uint32(b[8:12]),
		CRC32:    le.Uint32(b[12:16]),
		Blocks:   le.Uint32(b[16:20]),
	}, true
}

// Applier stages complete images into flash for the bootloader.
type Applier struct {
	flash Flash
}

// NewApplier returns an Applier writing to f.
func NewApplier(f Flash) *Applier {
	return &Applier{flash: f}
}

// Apply erases the staging area, writes every block at its offset from the
// lowest target address and commits the header last. It runs with interrupts
// masked; the caller reboots afterwards.
func (a *Applier) Apply(_ *kernel.Section, img Image) (StageHeader, error) {
	if img.Len() == 0 {
		return StageHeader{}, ErrEmptyImage
	}

	order := make([]int, img.Len())
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return img.Chunk(order[i]).Header().TargetAddr < img.Chunk(order[j]).Header().TargetAddr
	})

	base := img.Chunk(order[0]).Header().TargetAddr
	var end uint32
	for _, i := range order {
		h := img.Chunk(i).Header()
		if h.PayloadSize > PayloadBytes {
			return StageHeader{}, fmt.Errorf("block %d payload %d bytes: %w", h.BlockNum, h.PayloadSize, ErrImageTooLarge)
		}
		if e := h.TargetAddr + h.PayloadSize; e > end {
			end = e
		}
	}

	block := a.flash.EraseBlockBytes()
	if block == 0 {
		return StageHeader{}, fmt.Errorf("stage image: flash reports no erase block size")
	}
	size := end - base
	area := block + roundUp(size, block)
	if area > a.flash.SizeBytes() {
		return StageHeader{}, fmt.Errorf("stage %d bytes into %d: %w", size, a.flash.SizeBytes(), ErrImageTooLarge)
	}

	if err := a.flash.Erase(0, area); err != nil {
		return StageHeader{}, fmt.Errorf("stage image: %w", err)
	}

	sum := crc32.NewIEEE()
	for _, i := range order {
		c := img.Chunk(i)
		h := c.Header()
		payload := c.Payload()
		if _, err := a.flash.WriteAt(payload, block+h.TargetAddr-base); err != nil {
			return StageHeader{}, fmt.Errorf("stage block %d: %w", h.BlockNum, err)
		}
		_, _ = sum.Write(payload)
	}

	hdr := StageHeader{BaseAddr: base, Size: size, CRC32: sum.Sum32(), Blocks: uint32(img.Len())}
	raw := hdr.Marshal()
	if _, err := a.flash.WriteAt(raw[:], 0); err != nil {
		return StageHeader{}, fmt.Errorf("stage header: %w", err)
	}
	return hdr, nil
}

func roundUp(n, to uint32) uint32 {
	return (n + to - 1) / to * to
}

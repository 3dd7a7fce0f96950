// Package update ingests UF2 firmware images streamed by the host and stages
// them for the bootloader.
package update

import "encoding/binary"

const (
	// ChunkBytes is the size of one UF2 block.
	ChunkBytes = 512
	// PayloadBytes is the data area of a block.
	PayloadBytes = 476

	MagicStart0 uint32 = 0x0A324655
	MagicStart1 uint32 = 0x9E5D5157
	MagicEnd    uint32 = 0x0AB16F30
)

// Flags is the UF2 flag word.
type Flags uint32

// Flag values are the ones published in the UF2 format, not a packed bit
// numbering, so images from picotool, elf2uf2 and cmd/mkuf2 decode the same.
const (
	FlagNotMainFlash  Flags = 0x00000001
	FlagFileContainer Flags = 0x00001000
	FlagFamilyID      Flags = 0x00002000
	FlagMD5           Flags = 0x00004000
	FlagExtensionTags Flags = 0x00008000
)

// unsupportedFlags marks blocks this device refuses to flash.
const unsupportedFlags = FlagNotMainFlash | FlagFileContainer | FlagMD5 | FlagExtensionTags

// Header is the decoded fixed part of a block.
type Header struct {
	Flags       Flags
	TargetAddr  uint32
	PayloadSize uint32
	BlockNum    uint32
	BlockCount  uint32
	// FamilyID holds the file size instead when FlagFamilyID is clear.
	FamilyID uint32
}

// Chunk is one raw UF2 block.
type Chunk [ChunkBytes]byte

func (c *Chunk) word(off int) uint32 {
	return binary.LittleEndian.Uint32(c[off : off+4])
}

// Header decodes the fixed fields of c.
func (c *Chunk) Header() Header {
	return Header{
		Flags:       Flags(c.word(8)),
		TargetAddr:  c.word(12),
		PayloadSize: c.word(16),
		BlockNum:    c.word(20),
		BlockCount:  c.word(24),
		FamilyID:    c.word(28),
	}
}

// Payload returns the used part of the data area.
func (c *Chunk) Payload() []byte {
	n := c.word(16)
	if n > PayloadBytes {
		n = PayloadBytes
	}
	return c[32 : 32+n]
}

// Supported reports whether the magics match and no unsupported flag is set.
func (c *Chunk) Supported() bool {
	if c.word(0) != MagicStart0 || c.word(4) != MagicStart1 || c.word(ChunkBytes-4) != MagicEnd {
		return false
	}
	return Flags(c.word(8))&unsupportedFlags == 0
}

// NewChunk builds a block from h and payload. payload beyond PayloadBytes is
// ignored; PayloadSize is taken from h.
func NewChunk(h Header, payload []byte) Chunk {
	var c Chunk
	le := binary.LittleEndian
	le.PutUint32(c[0:4], MagicStart0)
	le.PutUint32(c[4:8], MagicStart1)
	le.PutUint32(c[8:12], uint32(h.Flags))
	le.PutUint32(c[12:16], h.TargetAddr)
	le.PutUint32(c[16:20], h.PayloadSize)
	le.PutUint32(c[20:24], h.BlockNum)
	le.PutUint32(c[24:28], h.BlockCount)
	le.PutUint32(c[28:32], h.FamilyID)
	copy(c[32:32+PayloadBytes], payload)
	le.PutUint32(c[ChunkBytes-4:], MagicEnd)
	return c
}

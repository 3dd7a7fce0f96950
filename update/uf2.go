package update

import (
	"errors"
	"fmt"
)

const (
	// FamilyRP2040 is the UF2 family id of RP2040 flash images.
	FamilyRP2040 uint32 = 0xE48BFF56
	// FlashBase is the XIP address flash images are linked at.
	FlashBase uint32 = 0x10000000
	// PackPayloadBytes is the payload per block written by Pack. The RP2040
	// bootrom only accepts 256 byte pages.
	PackPayloadBytes = 256
)

var (
	// ErrFileSize is returned for a UF2 file that is not a whole number of blocks.
	ErrFileSize = errors.New("update: file is not a whole number of UF2 blocks")
	// ErrBadBlock is returned for a block this device cannot flash.
	ErrBadBlock = errors.New("update: unsupported UF2 block")
)

// Split parses a UF2 file into its blocks.
func Split(file []byte) ([]Chunk, error) {
	if len(file)%ChunkBytes != 0 {
		return nil, fmt.Errorf("%d bytes: %w", len(file), ErrFileSize)
	}
	n := len(file) / ChunkBytes
	if n > MaxChunkCount {
		return nil, fmt.Errorf("%d blocks, max %d: %w", n, MaxChunkCount, ErrTooManyChunks)
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		copy(chunks[i][:], file[i*ChunkBytes:])
		if !chunks[i].Supported() {
			return nil, fmt.Errorf("block %d: %w", i, ErrBadBlock)
		}
		if h := chunks[i].Header(); h.BlockNum != uint32(i) || h.BlockCount != uint32(n) {
			return nil, fmt.Errorf("block %d numbered %d/%d: %w", i, h.BlockNum, h.BlockCount, ErrBadBlock)
		}
	}
	return chunks, nil
}

// Pack splits a raw binary linked at base into UF2 blocks tagged with
// familyID. The last block is padded with zeros to a full page.
func Pack(bin []byte, base, familyID uint32) ([]Chunk, error) {
	n := (len(bin) + PackPayloadBytes - 1) / PackPayloadBytes
	if n > MaxChunkCount {
		return nil, fmt.Errorf("%d bytes need %d blocks, max %d: %w", len(bin), n, MaxChunkCount, ErrTooManyChunks)
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		off := i * PackPayloadBytes
		end := off + PackPayloadBytes
		if end > len(bin) {
			end = len(bin)
		}
		chunks[i] = NewChunk(Header{
			Flags:       FlagFamilyID,
			TargetAddr:  base + uint32(off),
			PayloadSize: PackPayloadBytes,
			BlockNum:    uint32(i),
			BlockCount:  uint32(n),
			FamilyID:    familyID,
		}, bin[off:end])
	}
	return chunks, nil
}

// AppendFile appends chunks in UF2 file form to dst.
func AppendFile(dst []byte, chunks []Chunk) []byte {
	for i := range chunks {
		dst = append(dst, chunks[i][:]...)
	}
	return dst
}

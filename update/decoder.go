package update

import (
	"errors"
	"fmt"
	"hash/crc32"
)

// MaxChunkCount is the largest image the decoder buffers.
const MaxChunkCount = 128

// RecordBytes is one stream record: a CRC32 followed by a block.
const RecordBytes = 4 + ChunkBytes

// ErrTooManyChunks is returned for an expected count above MaxChunkCount.
var ErrTooManyChunks = errors.New("update: too many chunks")

// Status is the outcome of one Feed call.
type Status uint8

const (
	Progress Status = iota
	ChunkDone
	ChunkInvalid
	Complete
)

func (s Status) String() string {
	switch s {
	case Progress:
		return "progress"
	case ChunkDone:
		return "chunk_done"
	case ChunkInvalid:
		return "chunk_invalid"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Decoder reassembles a firmware stream of (crc32 LE, block) records one byte
// at a time. It owns fixed storage for MaxChunkCount blocks and does not
// allocate after construction.
type Decoder struct {
	chunks   [MaxChunkCount]Chunk
	expected int
	accepted int

	off  int
	crc  uint32
	crcN int
}

// NewDecoder returns a decoder expecting the given number of blocks.
func NewDecoder(expected int) (*Decoder, error) {
	d := &Decoder{}
	if err := d.Reset(expected); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset discards any progress and prepares for a new image.
func (d *Decoder) Reset(expected int) error {
	if expected < 0 || expected > MaxChunkCount {
		return fmt.Errorf("expected %d chunks, max %d: %w", expected, MaxChunkCount, ErrTooManyChunks)
	}
	d.expected = expected
	d.accepted = 0
	d.off = 0
	d.crc = 0
	d.crcN = 0
	return nil
}

// Expected returns the block count of the image.
func (d *Decoder) Expected() int { return d.expected }

// Accepted returns the number of validated blocks.
func (d *Decoder) Accepted() int { return d.accepted }

// Feed consumes one stream byte. A block whose CRC or header is rejected is
// dropped and the next record is decoded into the same slot. Once Complete,
// further bytes are ignored.
func (d *Decoder) Feed(b byte) Status {
	if d.accepted == d.expected {
		return Complete
	}

	if d.crcN < 4 {
		d.crc |= uint32(b) << (8 * d.crcN)
		d.crcN++
		return Progress
	}

	slot := &d.chunks[d.accepted]
	slot[d.off] = b
	d.off++
	if d.off < ChunkBytes {
		return Progress
	}

	want := d.crc
	d.off = 0
	d.crc = 0
	d.crcN = 0

	if crc32.ChecksumIEEE(slot[:]) != want {
		return ChunkInvalid
	}
	if !slot.Supported() {
		return ChunkInvalid
	}

	d.accepted++
	if d.accepted == d.expected {
		return Complete
	}
	return ChunkDone
}

// Image returns the decoded image once every block has been accepted.
func (d *Decoder) Image() (Image, bool) {
	if d.accepted != d.expected {
		return Image{}, false
	}
	return Image{chunks: d.chunks[:d.accepted]}, true
}

// Image is a complete, validated firmware image. It can only be obtained
// from a Decoder that reached Complete.
type Image struct {
	chunks []Chunk
}

// Len returns the number of blocks.
func (img Image) Len() int { return len(img.chunks) }

// Chunk returns block i.
func (img Image) Chunk(i int) *Chunk { return &img.chunks[i] }

// AppendRecord appends the stream record for c to dst.
func AppendRecord(dst []byte, c *Chunk) []byte {
	sum := crc32.ChecksumIEEE(c[:])
	dst = append(dst, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
	return append(dst, c[:]...)
}

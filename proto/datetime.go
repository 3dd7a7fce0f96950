package proto

import (
	"encoding/binary"
	"time"
)

// DateTimeBytes is the encoded size of a DateTime.
const DateTimeBytes = 5

// DateTime is the wall-clock time a host attaches to StartSession.
//
// Layout, little-endian 40-bit field, LSB first:
//   - bits 0..11:  year
//   - bits 12..15: month
//   - bits 16..20: day
//   - bits 21..25: hour
//   - bits 26..31: minute
//   - bits 32..37: second
type DateTime struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// DateTimeFromTime converts t (in its own location) to a DateTime.
func DateTimeFromTime(t time.Time) DateTime {
	return DateTime{
		Year:   uint16(t.Year()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// IsZero reports whether no timestamp was supplied.
func (d DateTime) IsZero() bool {
	return d == DateTime{}
}

// Time returns d as a UTC time.
func (d DateTime) Time() time.Time {
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day), int(d.Hour), int(d.Minute), int(d.Second), 0, time.UTC)
}

// Pack encodes d. Fields wider than their bit budget are truncated.
func (d DateTime) Pack() [DateTimeBytes]byte {
	bits := uint64(d.Year&0xFFF) |
		uint64(d.Month&0xF)<<12 |
		uint64(d.Day&0x1F)<<16 |
		uint64(d.Hour&0x1F)<<21 |
		uint64(d.Minute&0x3F)<<26 |
		uint64(d.Second&0x3F)<<32

	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], bits)
	var out [DateTimeBytes]byte
	copy(out[:], full[:DateTimeBytes])
	return out
}

// UnpackDateTime decodes a packed DateTime.
func UnpackDateTime(b [DateTimeBytes]byte) DateTime {
	var full [8]byte
	copy(full[:], b[:])
	bits := binary.LittleEndian.Uint64(full[:])
	return DateTime{
		Year:   uint16(bits & 0xFFF),
		Month:  uint8(bits >> 12 & 0xF),
		Day:    uint8(bits >> 16 & 0x1F),
		Hour:   uint8(bits >> 21 & 0x1F),
		Minute: uint8(bits >> 26 & 0x3F),
		Second: uint8(bits >> 32 & 0x3F),
	}
}

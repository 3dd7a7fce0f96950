package proto

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pjottos/gocycling-controller/cycling"
)

func TestCRC8KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint8
	}{
		{name: "empty", in: nil, want: 0xFF},
		// CRC-8/NRSC-5 check value.
		{name: "check", in: []byte("123456789"), want: 0xF7},
		{name: "sensirion", in: []byte{0xBE, 0xEF}, want: 0x92},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CRC8(tt.in))
			assert.Equal(t, tt.want, CRC8(tt.in), "must be deterministic")
		})
	}
}

func TestCRC8DetectsSingleBitFlips(t *testing.T) {
	payload := []byte{0x01, 0x7F, 0x80, 0xAA, 0x55, 0x00}
	want := CRC8(payload)
	for i := range payload {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), payload...)
			flipped[i] ^= 1 << bit
			assert.NotEqual(t, want, CRC8(flipped), "byte %d bit %d", i, bit)
		}
	}
}

func TestCRC8OrderSensitive(t *testing.T) {
	assert.NotEqual(t, CRC8([]byte{0x01, 0x02}), CRC8([]byte{0x02, 0x01}))
}

func TestDateTimePackRoundTrip(t *testing.T) {
	dt := DateTime{Year: 2024, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 58}
	got := UnpackDateTime(dt.Pack())
	assert.Equal(t, dt, got)
	assert.False(t, got.IsZero())
}

func TestDateTimeBitLayout(t *testing.T) {
	dt := DateTime{Year: 0xFFF, Month: 0, Day: 0, Hour: 0, Minute: 0, Second: 1}
	b := dt.Pack()
	assert.Equal(t, [DateTimeBytes]byte{0xFF, 0x0F, 0x00, 0x00, 0x01}, b)

	dt = DateTime{Minute: 1}
	assert.Equal(t, [DateTimeBytes]byte{0x00, 0x00, 0x00, 0x04, 0x00}, dt.Pack())
}

func TestDateTimeFromTime(t *testing.T) {
	tm := time.Date(2023, time.March, 7, 8, 9, 10, 0, time.UTC)
	dt := DateTimeFromTime(tm)
	assert.Equal(t, tm, dt.Time())
}

func TestRxRoundTrip(t *testing.T) {
	tests := []RxCommand{
		{Kind: RxStartSession, Start: DateTime{Year: 2022, Month: 6, Day: 1, Hour: 7, Minute: 30, Second: 0}},
		{Kind: RxStartSession},
		{Kind: RxStopSession},
		{Kind: RxContinueSession},
		{Kind: RxHandshake, SessionActive: true},
		{Kind: RxHandshake, SessionActive: false},
		{Kind: RxBeginUpdate, ChunkCount: 0},
		{Kind: RxBeginUpdate, ChunkCount: math.MaxUint16},
	}

	for _, cmd := range tests {
		t.Run(cmd.Kind.String(), func(t *testing.T) {
			frame, err := AppendRx(nil, cmd)
			require.NoError(t, err)
			n, ok := RxPayloadLen(frame[0])
			require.True(t, ok)
			require.Len(t, frame, HeaderBytes+n)

			got, err := DecodeRx(frame)
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
		})
	}
}

func TestTxRoundTrip(t *testing.T) {
	tests := []TxCommand{
		LiveData(cycling.CycleEvent{ElapsedMillis: 0}),
		LiveData(cycling.CycleEvent{ElapsedMillis: math.MaxUint32}),
		BulkData(cycling.Session{AccumulatedMillis: 123456, CycleCount: 789}),
		BulkData(cycling.Session{AccumulatedMillis: math.MaxUint32, CycleCount: math.MaxUint16}),
		UpdateReply(UpdateChunkDone, 3),
		UpdateReply(UpdateRejected, 0),
	}

	for _, cmd := range tests {
		t.Run(cmd.Kind.String(), func(t *testing.T) {
			frame, err := AppendTx(nil, cmd)
			require.NoError(t, err)
			got, err := DecodeTx(frame)
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
		})
	}
}

func TestTxLiveDataWireLayout(t *testing.T) {
	frame, err := AppendTx(nil, LiveData(cycling.CycleEvent{ElapsedMillis: 0x01020304}))
	require.NoError(t, err)
	payload := []byte{0x04, 0x03, 0x02, 0x01}
	assert.Equal(t, append([]byte{1, CRC8(payload)}, payload...), frame)
}

func TestDecodeRejects(t *testing.T) {
	good, err := AppendRx(nil, RxCommand{Kind: RxHandshake, SessionActive: true})
	require.NoError(t, err)

	badCRC := append([]byte(nil), good...)
	badCRC[1] ^= 0xFF

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{name: "empty", frame: nil, want: ErrLength},
		{name: "unknown id", frame: []byte{0x7E, 0xFF}, want: ErrUnknownCommand},
		{name: "short", frame: good[:2], want: ErrLength},
		{name: "long", frame: append(append([]byte(nil), good...), 0), want: ErrLength},
		{name: "checksum", frame: badCRC, want: ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRx(tt.frame)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAppendUnknownKind(t *testing.T) {
	_, err := AppendRx(nil, RxCommand{})
	require.ErrorIs(t, err, ErrUnknownCommand)
	_, err = AppendTx(nil, TxCommand{})
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestAssemblerResyncsAfterGarbage(t *testing.T) {
	start, err := AppendRx(nil, RxCommand{Kind: RxStartSession, Start: DateTime{Year: 2021, Month: 1, Day: 2}})
	require.NoError(t, err)
	stop, err := AppendRx(nil, RxCommand{Kind: RxStopSession})
	require.NoError(t, err)

	stream := []byte{0x00, 0xEE, 0x42}
	stream = append(stream, start...)
	stream = append(stream, 0x99)
	stream = append(stream, stop...)

	a := NewRxAssembler()
	var got []RxCommand
	var unknown int
	for _, b := range stream {
		frame, ok, err := a.Feed(b)
		if err != nil {
			require.ErrorIs(t, err, ErrUnknownCommand)
			unknown++
			continue
		}
		if ok {
			cmd, err := DecodeRx(frame)
			require.NoError(t, err)
			got = append(got, cmd)
		}
	}

	assert.Equal(t, 4, unknown)
	require.Len(t, got, 2)
	assert.Equal(t, RxStartSession, got[0].Kind)
	assert.Equal(t, uint16(2021), got[0].Start.Year)
	assert.Equal(t, RxStopSession, got[1].Kind)
	assert.Zero(t, a.Pending())
}

func TestAssemblerDropsBadChecksumFrame(t *testing.T) {
	frame, err := AppendRx(nil, RxCommand{Kind: RxHandshake, SessionActive: true})
	require.NoError(t, err)
	frame[2] ^= 0x01

	a := NewRxAssembler()
	var lastErr error
	for _, b := range frame {
		_, ok, err := a.Feed(b)
		assert.False(t, ok)
		lastErr = err
	}
	require.ErrorIs(t, lastErr, ErrChecksum)

	good, err := AppendRx(nil, RxCommand{Kind: RxStopSession})
	require.NoError(t, err)
	var ok bool
	for _, b := range good {
		_, ok, err = a.Feed(b)
		require.NoError(t, err)
	}
	assert.True(t, ok)
}

func TestTxAssemblerZeroLengthPayloadCompletes(t *testing.T) {
	a := NewTxAssembler()
	frame, err := AppendTx(nil, UpdateReply(UpdateComplete, 9))
	require.NoError(t, err)

	var done []byte
	for _, b := range frame {
		f, ok, err := a.Feed(b)
		require.NoError(t, err)
		if ok {
			done = append([]byte(nil), f...)
		}
	}
	assert.Equal(t, frame, done)
}

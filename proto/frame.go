package proto

import (
	"encoding/binary"
	"fmt"
)

func appendFrame(dst []byte, id uint8, payload []byte) []byte {
	dst = append(dst, id, CRC8(payload))
	return append(dst, payload...)
}

// checkFrame validates the header and returns the payload.
func checkFrame(frame []byte, payloadLen func(uint8) (int, bool)) ([]byte, error) {
	if len(frame) < HeaderBytes {
		return nil, ErrLength
	}
	n, ok := payloadLen(frame[0])
	if !ok {
		return nil, fmt.Errorf("id %d: %w", frame[0], ErrUnknownCommand)
	}
	if len(frame) != HeaderBytes+n {
		return nil, fmt.Errorf("id %d: got %d bytes, want %d: %w", frame[0], len(frame), HeaderBytes+n, ErrLength)
	}
	payload := frame[HeaderBytes:]
	if CRC8(payload) != frame[1] {
		return nil, fmt.Errorf("id %d: %w", frame[0], ErrChecksum)
	}
	return payload, nil
}

// AppendRx appends the frame for a host command to dst.
func AppendRx(dst []byte, cmd RxCommand) ([]byte, error) {
	var payload [DateTimeBytes]byte
	var n int
	switch cmd.Kind {
	case RxStartSession:
		payload = cmd.Start.Pack()
		n = DateTimeBytes
	case RxStopSession, RxContinueSession:
	case RxHandshake:
		if cmd.SessionActive {
			payload[0] = 1
		}
		n = 1
	case RxBeginUpdate:
		binary.LittleEndian.PutUint16(payload[:2], cmd.ChunkCount)
		n = 2
	default:
		return dst, fmt.Errorf("rx kind %d: %w", cmd.Kind, ErrUnknownCommand)
	}
	return appendFrame(dst, uint8(cmd.Kind), payload[:n]), nil
}

// DecodeRx decodes one complete host frame.
func DecodeRx(frame []byte) (RxCommand, error) {
	payload, err := checkFrame(frame, RxPayloadLen)
	if err != nil {
		return RxCommand{}, err
	}
	cmd := RxCommand{Kind: RxKind(frame[0])}
	switch cmd.Kind {
	case RxStartSession:
		var b [DateTimeBytes]byte
		copy(b[:], payload)
		cmd.Start = UnpackDateTime(b)
	case RxHandshake:
		cmd.SessionActive = payload[0]&0x01 != 0
	case RxBeginUpdate:
		cmd.ChunkCount = binary.LittleEndian.Uint16(payload)
	}
	return cmd, nil
}

// AppendTx appends the frame for a device command to dst.
func AppendTx(dst []byte, cmd TxCommand) ([]byte, error) {
	var payload [6]byte
	var n int
	switch cmd.Kind {
	case TxLiveData:
		binary.LittleEndian.PutUint32(payload[0:4], cmd.Live.ElapsedMillis)
		n = 4
	case TxBulkData:
		binary.LittleEndian.PutUint32(payload[0:4], cmd.Bulk.AccumulatedMillis)
		binary.LittleEndian.PutUint16(payload[4:6], cmd.Bulk.CycleCount)
		n = 6
	case TxUpdateStatus:
		payload[0] = uint8(cmd.Update.Code)
		binary.LittleEndian.PutUint16(payload[1:3], cmd.Update.Accepted)
		n = 3
	default:
		return dst, fmt.Errorf("tx kind %d: %w", cmd.Kind, ErrUnknownCommand)
	}
	return appendFrame(dst, uint8(cmd.Kind), payload[:n]), nil
}

// DecodeTx decodes one complete device frame.
func DecodeTx(frame []byte) (TxCommand, error) {
	payload, err := checkFrame(frame, TxPayloadLen)
	if err != nil {
		return TxCommand{}, err
	}
	cmd := TxCommand{Kind: TxKind(frame[0])}
	switch cmd.Kind {
	case TxLiveData:
		cmd.Live.ElapsedMillis = binary.LittleEndian.Uint32(payload[0:4])
	case TxBulkData:
		cmd.Bulk.AccumulatedMillis = binary.LittleEndian.Uint32(payload[0:4])
		cmd.Bulk.CycleCount = binary.LittleEndian.Uint16(payload[4:6])
	case TxUpdateStatus:
		cmd.Update.Code = UpdateCode(payload[0])
		cmd.Update.Accepted = binary.LittleEndian.Uint16(payload[1:3])
	}
	return cmd, nil
}

// Assembler collects bytes into frames one byte at a time. It keeps no
// heap state and is safe to drive from an interrupt handler.
type Assembler struct {
	payloadLen func(uint8) (int, bool)
	buf        [MaxFrameBytes]byte
	n          int
	want       int
}

// NewRxAssembler returns an Assembler for host to device frames.
func NewRxAssembler() Assembler {
	return Assembler{payloadLen: RxPayloadLen}
}

// NewTxAssembler returns an Assembler for device to host frames.
func NewTxAssembler() Assembler {
	return Assembler{payloadLen: TxPayloadLen}
}

// Feed consumes one byte. When a frame completes it returns the frame and
// true; the slice is valid until the next call. A completed frame with a bad
// checksum is returned with ok false and ErrChecksum. Bytes that cannot
// start a frame are discarded with ErrUnknownCommand so the stream
// resynchronizes on the next byte.
func (a *Assembler) Feed(b byte) (frame []byte, ok bool, err error) {
	if a.n == 0 {
		n, known := a.payloadLen(b)
		if !known {
			return nil, false, ErrUnknownCommand
		}
		a.want = HeaderBytes + n
	}

	a.buf[a.n] = b
	a.n++
	if a.n < a.want {
		return nil, false, nil
	}

	frame = a.buf[:a.n]
	a.n = 0
	if CRC8(frame[HeaderBytes:]) != frame[1] {
		return nil, false, ErrChecksum
	}
	return frame, true, nil
}

// Reset drops any partially assembled frame.
func (a *Assembler) Reset() {
	a.n = 0
	a.want = 0
}

// Pending reports how many bytes of the current frame have been collected.
func (a *Assembler) Pending() int {
	return a.n
}

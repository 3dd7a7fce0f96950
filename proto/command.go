// Package proto implements the framed wire protocol between the sensor and
// its paired host.
//
// Every frame is laid out as
//
//	[id:1][crc8(payload):1][payload:N]
//
// where N is fixed per command id. Payload fields are little-endian in
// declaration order.
package proto

import (
	"errors"

	"github.com/Pjottos/gocycling-controller/cycling"
)

var (
	// ErrUnknownCommand reports a command id outside the command set.
	ErrUnknownCommand = errors.New("proto: unknown command")
	// ErrLength reports a frame whose length does not match its command.
	ErrLength = errors.New("proto: bad frame length")
	// ErrChecksum reports a CRC8 mismatch.
	ErrChecksum = errors.New("proto: checksum mismatch")
	// ErrShortBuffer reports a destination too small for a frame.
	ErrShortBuffer = errors.New("proto: short buffer")
)

// HeaderBytes is the size of the id and checksum bytes.
const HeaderBytes = 2

// MaxFrameBytes bounds every frame in either direction.
const MaxFrameBytes = HeaderBytes + 6

// RxKind identifies a host to device command.
type RxKind uint8

const (
	RxStartSession RxKind = iota + 1
	RxStopSession
	RxHandshake
	RxContinueSession
	RxBeginUpdate
)

func (k RxKind) String() string {
	switch k {
	case RxStartSession:
		return "start_session"
	case RxStopSession:
		return "stop_session"
	case RxHandshake:
		return "handshake"
	case RxContinueSession:
		return "continue_session"
	case RxBeginUpdate:
		return "begin_update"
	default:
		return "unknown"
	}
}

// RxPayloadLen returns the payload size of a host command id.
func RxPayloadLen(id uint8) (int, bool) {
	switch RxKind(id) {
	case RxStartSession:
		return DateTimeBytes, true
	case RxStopSession, RxContinueSession:
		return 0, true
	case RxHandshake:
		return 1, true
	case RxBeginUpdate:
		return 2, true
	default:
		return 0, false
	}
}

// RxCommand is one decoded host command. Only the fields of its Kind are set.
type RxCommand struct {
	Kind RxKind

	// StartSession: optional wall-clock time, zero when absent.
	Start DateTime
	// Handshake: the host already expects a session.
	SessionActive bool
	// BeginUpdate: number of firmware records that follow.
	ChunkCount uint16
}

// TxKind identifies a device to host command.
type TxKind uint8

const (
	TxLiveData TxKind = iota + 1
	TxBulkData
	TxUpdateStatus
)

func (k TxKind) String() string {
	switch k {
	case TxLiveData:
		return "live_data"
	case TxBulkData:
		return "bulk_data"
	case TxUpdateStatus:
		return "update_status"
	default:
		return "unknown"
	}
}

// TxPayloadLen returns the payload size of a device command id.
func TxPayloadLen(id uint8) (int, bool) {
	switch TxKind(id) {
	case TxLiveData:
		return 4, true
	case TxBulkData:
		return 6, true
	case TxUpdateStatus:
		return 3, true
	default:
		return 0, false
	}
}

// UpdateCode is the firmware ingestion outcome reported to the host.
type UpdateCode uint8

const (
	UpdateChunkDone UpdateCode = iota + 1
	UpdateChunkInvalid
	UpdateComplete
	UpdateRejected
)

func (c UpdateCode) String() string {
	switch c {
	case UpdateChunkDone:
		return "chunk_done"
	case UpdateChunkInvalid:
		return "chunk_invalid"
	case UpdateComplete:
		return "complete"
	case UpdateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// UpdateStatus acknowledges one firmware record.
type UpdateStatus struct {
	Code     UpdateCode
	Accepted uint16
}

// TxCommand is one device command. Only the fields of its Kind are set.
type TxCommand struct {
	Kind TxKind

	Live   cycling.CycleEvent
	Bulk   cycling.Session
	Update UpdateStatus
}

// LiveData builds a LiveData command.
func LiveData(ev cycling.CycleEvent) TxCommand {
	return TxCommand{Kind: TxLiveData, Live: ev}
}

// BulkData builds a BulkData command.
func BulkData(s cycling.Session) TxCommand {
	return TxCommand{Kind: TxBulkData, Bulk: s}
}

// UpdateReply builds an UpdateStatus command.
func UpdateReply(code UpdateCode, accepted uint16) TxCommand {
	return TxCommand{Kind: TxUpdateStatus, Update: UpdateStatus{Code: code, Accepted: accepted}}
}

// Package dissect parses raw bytes captured from a bitaxe-raw control or
// data port into individual BM13xx frames for display. Response frames
// are handed off to internal/bm13xx's decoders; command and job frames
// (host-to-chip) have no decoder there since that package only ever
// needs to encode them, so this package decodes them itself.
package dissect

import (
	"encoding/binary"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bm13xx"
)

// Direction identifies which port a captured frame came from.
type Direction string

const (
	DirectionHostToChip Direction = "host->chip"
	DirectionChipToHost Direction = "chip->host"
)

// CrcStatus reports whether a frame's checksum was verified.
type CrcStatus int

const (
	CrcNotChecked CrcStatus = iota
	CrcValid
	CrcInvalid
)

func (s CrcStatus) String() string {
	switch s {
	case CrcValid:
		return "valid"
	case CrcInvalid:
		return "invalid"
	default:
		return "not checked"
	}
}

// FrameKind tags which variant of DissectedFrame's payload fields is set.
type FrameKind int

const (
	FrameKindCommand FrameKind = iota
	FrameKindJob
	FrameKindResponse
	FrameKindUnknown
	FrameKindInvalid
)

// CommandInfo decodes a register read or write command frame.
type CommandInfo struct {
	ReadNotWrite bool
	Broadcast    bool
	ChipAddr     uint8
	RegAddr      uint8
	Data         uint32 // valid only for a write
}

// JobInfo decodes the fields of a job frame relevant to diagnosis; the
// merkle root and previous block hash are left in RawData rather than
// duplicated here.
type JobInfo struct {
	JobID   uint8
	NTime   uint32
	NBits   uint32
	Version uint32
}

// DissectedFrame is one parsed frame plus enough context to render it.
type DissectedFrame struct {
	Timestamp time.Time
	Direction Direction
	RawData   []byte
	Kind      FrameKind
	Command   CommandInfo
	Job       JobInfo
	Response  bm13xx.Response
	CrcStatus CrcStatus
	Invalid   string
}

const (
	preambleCmd0 = 0x55
	preambleCmd1 = 0xaa

	frameTypeJob = 1
	frameTypeCmd = 2

	cmdBitBroadcast = 1 << 4
	cmdCodeMask     = 0x0f
	cmdCodeRead     = 2
	cmdCodeWrite    = 1

	jobBodyLen  = 82
	minCmdFrame = 5 // preamble(2) + field(1) + len(1) + crc5(1)
)

// NextHostFrame decodes one host-to-chip frame at the start of buf. It
// returns the decoded frame and the number of bytes consumed. If buf
// does not start with a command/job preamble, consumed is 0 so the
// caller can advance a byte and retry. A frame whose declared length
// runs past the end of buf is reported as needing more data by
// returning consumed 0 and ok false; the caller should wait for the
// stream to fill in and call again.
func NextHostFrame(buf []byte) (frame DissectedFrame, consumed int, ok bool) {
	if len(buf) < 4 || buf[0] != preambleCmd0 || buf[1] != preambleCmd1 {
		return DissectedFrame{}, 0, false
	}

	field := buf[2]
	lengthByte := buf[3]
	total := int(lengthByte) + 2
	if total < minCmdFrame {
		return DissectedFrame{Kind: FrameKindInvalid, RawData: append([]byte(nil), buf[:4]...), Invalid: "declared length too short"}, 4, true
	}
	if total > len(buf) {
		return DissectedFrame{}, 0, false
	}

	raw := append([]byte(nil), buf[:total]...)
	frameType := field >> 5

	if frameType == frameTypeJob {
		return decodeJobFrame(raw), total, true
	}
	if frameType == frameTypeCmd {
		return decodeCommandFrame(raw, field), total, true
	}
	return DissectedFrame{Kind: FrameKindUnknown, RawData: raw}, total, true
}

func decodeJobFrame(raw []byte) DissectedFrame {
	wantLen := 4 + jobBodyLen + 2
	if len(raw) < wantLen {
		return DissectedFrame{Kind: FrameKindInvalid, RawData: raw, Invalid: "job frame too short"}
	}
	body := raw[4 : 4+jobBodyLen]
	crcBytes := raw[4+jobBodyLen : wantLen]
	got := binary.LittleEndian.Uint16(crcBytes)
	want := bm13xx.CRC16(raw[2 : 4+jobBodyLen])
	status := CrcInvalid
	if got == want {
		status = CrcValid
	}

	job := JobInfo{
		JobID:   body[0] >> 3,
		NBits:   binary.LittleEndian.Uint32(body[6:10]),
		NTime:   binary.LittleEndian.Uint32(body[10:14]),
		Version: binary.LittleEndian.Uint32(body[78:82]),
	}
	return DissectedFrame{Kind: FrameKindJob, RawData: raw, Job: job, CrcStatus: status}
}

func decodeCommandFrame(raw []byte, field uint8) DissectedFrame {
	total := len(raw)
	payload := raw[4 : total-1]
	trailerCRC := raw[total-1] & 0x1f
	status := CrcInvalid
	if bm13xx.CRC5(raw[2:total-1]) == trailerCRC {
		status = CrcValid
	}

	info := CommandInfo{Broadcast: field&cmdBitBroadcast != 0}
	switch field & cmdCodeMask {
	case cmdCodeRead:
		info.ReadNotWrite = true
		if len(payload) >= 2 {
			info.ChipAddr = payload[0]
			info.RegAddr = payload[1]
		}
	case cmdCodeWrite:
		if len(payload) >= 6 {
			info.ChipAddr = payload[0]
			info.RegAddr = payload[1]
			info.Data = binary.LittleEndian.Uint32(payload[2:6])
		}
	}
	return DissectedFrame{Kind: FrameKindCommand, RawData: raw, Command: info, CrcStatus: status}
}

// responseFrameLen mirrors bm13xx's fixed 11-byte response frame.
const responseFrameLen = 11

// NextChipFrame decodes one chip-to-host response frame at the start of
// buf. expectRegister selects which of bm13xx's two decoders to use,
// since both response kinds share the same wire shape and are only
// distinguishable by which request is outstanding; a live capture with
// no request tracking defaults the caller to nonce decoding, matching
// the data port's normal traffic.
func NextChipFrame(buf []byte, expectRegister bool) (frame DissectedFrame, consumed int, ok bool) {
	if len(buf) < responseFrameLen {
		return DissectedFrame{}, 0, false
	}
	raw := append([]byte(nil), buf[:responseFrameLen]...)

	var resp bm13xx.Response
	var err error
	if expectRegister {
		resp, err = bm13xx.DecodeRegisterResponse(raw)
	} else {
		resp, err = bm13xx.DecodeNonceResponse(raw)
	}
	if err != nil {
		return DissectedFrame{Kind: FrameKindInvalid, RawData: raw, Invalid: err.Error()}, responseFrameLen, true
	}
	return DissectedFrame{Kind: FrameKindResponse, RawData: raw, Response: resp, CrcStatus: CrcValid}, responseFrameLen, true
}

// ExportRecord is the CBOR-serializable form of a DissectedFrame written
// by capture's --export flag: the raw bytes plus enough metadata to
// re-dissect them later without needing the decoded payload fields,
// which don't round-trip cleanly through cbor (bm13xx.Response embeds
// unexported invariants enforced only at decode time).
type ExportRecord struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	Kind      FrameKind `cbor:"3,keyasint"`
	RawData   []byte    `cbor:"4,keyasint"`
	CrcStatus CrcStatus `cbor:"5,keyasint"`
}

// ToRecord converts a DissectedFrame to its exportable form.
func (f DissectedFrame) ToRecord() ExportRecord {
	return ExportRecord{
		Timestamp: f.Timestamp,
		Direction: f.Direction,
		Kind:      f.Kind,
		RawData:   f.RawData,
		CrcStatus: f.CrcStatus,
	}
}

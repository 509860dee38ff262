package bm13xx

import "encoding/binary"

const (
	preambleCmd0 = 0x55
	preambleCmd1 = 0xaa
	preambleRsp0 = 0xaa
	preambleRsp1 = 0x55
)

// type_flags bit layout: bits6-5 = frame type (Job=1, Command=2), bit4 =
// broadcast/all, bits3-0 = command code.
const (
	fieldTypeShift = 5
	fieldTypeJob   = 1
	fieldTypeCmd   = 2

	fieldBitBroadcast = 1 << 4

	cmdSetAddress         = 0
	cmdWriteRegisterOrJob = 1
	cmdReadRegister       = 2
	cmdChainInactive      = 3
)

// RegisterChipAddress is register 0x00, whose value on a read holds the
// chip-id byte sequence.
const RegisterChipAddress = 0x00

// EncodeReadRegister builds a register-read command frame. all
// broadcasts the read to every chip on the chain (used during chip
// discovery); otherwise addr selects one chip.
func EncodeReadRegister(all bool, addr, register uint8) []byte {
	field := uint8(fieldTypeCmd<<fieldTypeShift) | cmdReadRegister
	if all {
		field |= fieldBitBroadcast
	}
	payload := []byte{addr, register}
	return encodeCommand(field, payload)
}

// EncodeWriteRegister builds a register-write command frame. data is
// transmitted little-endian.
func EncodeWriteRegister(broadcast bool, addr, register uint8, data uint32) []byte {
	field := uint8(fieldTypeCmd<<fieldTypeShift) | cmdWriteRegisterOrJob
	if broadcast {
		field |= fieldBitBroadcast
	}
	payload := make([]byte, 0, 6)
	payload = append(payload, addr, register)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], data)
	payload = append(payload, buf[:]...)
	return encodeCommand(field, payload)
}

func encodeCommand(field uint8, payload []byte) []byte {
	frame := make([]byte, 0, 2+2+len(payload)+1)
	frame = append(frame, preambleCmd0, preambleCmd1)
	frame = append(frame, field)
	frame = append(frame, uint8(2+len(payload)+1))
	frame = append(frame, payload...)
	frame = append(frame, crc5(frame[2:]))
	return frame
}

// jobFrameType is the fixed type/flags byte for full-midstate job
// frames: type=Job, not broadcast, cmd=WriteRegisterOrJob.
const jobFrameType = fieldTypeJob<<fieldTypeShift | cmdWriteRegisterOrJob

// jobBodyLen is the length of the job body: job_header(1), num_midstates(1),
// starting_nonce[4], nbits[4], ntime[4], merkle_root[32],
// prev_block_hash[32], version[4] = 82 bytes.
const jobBodyLen = 1 + 1 + 4 + 4 + 4 + 32 + 32 + 4

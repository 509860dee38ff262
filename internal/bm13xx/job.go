package bm13xx

import "encoding/binary"

// Job is a full-midstate mining work unit as sent to a BM1370/BM1362
// chain. num_midstates is fixed at 1: multi-midstate framing exists in
// the wider BM13xx family but is not needed by any chip this package
// targets.
type Job struct {
	JobID         uint8 // 4 bits
	Version       uint32
	PrevBlockHash [32]byte // wire byte order, not reversed
	MerkleRoot    [32]byte // wire byte order, not reversed
	NTime         uint32
	NBits         uint32
	StartingNonce uint32
}

const numMidstatesFull = 0x01

// EncodeJob builds a full-midstate job frame: 55 AA 21 56 <82-byte body> <crc16 LE>.
func EncodeJob(j Job) []byte {
	body := make([]byte, 0, jobBodyLen)
	body = append(body, (j.JobID&0x0f)<<3)
	body = append(body, numMidstatesFull)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], j.StartingNonce)
	body = append(body, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], j.NBits)
	body = append(body, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], j.NTime)
	body = append(body, u32[:]...)
	body = append(body, j.MerkleRoot[:]...)
	body = append(body, j.PrevBlockHash[:]...)
	binary.LittleEndian.PutUint32(u32[:], j.Version)
	body = append(body, u32[:]...)

	frame := make([]byte, 0, 4+len(body)+2)
	frame = append(frame, preambleCmd0, preambleCmd1, jobFrameType, uint8(2+len(body)+2))
	frame = append(frame, body...)

	crc := crc16(frame[2:])
	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc)
	frame = append(frame, crcBuf[:]...)
	return frame
}

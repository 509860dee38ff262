// Package bm13xx implements the BM13xx ASIC wire protocol: command and
// job frame encoding, register-read and nonce response decoding, and the
// two CRC layers that guard them.
package bm13xx

// crc5 computes the USB CRC-5 checksum used by command and response
// frames: polynomial 0x05, initial value 0x1F, 5-bit result, no
// reflection, no final XOR. The result occupies the low 5 bits of the
// returned byte.
func crc5(data []byte) uint8 {
	crc := uint8(0x1f)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit := (b >> uint(i)) & 1
			top := (crc >> 4) & 1
			crc = (crc << 1) & 0x1f
			if top^bit != 0 {
				crc ^= 0x05
			}
		}
	}
	return crc & 0x1f
}

// crc16 computes CRC-16-CCITT-FALSE over data: polynomial 0x1021,
// initial value 0xFFFF, no reflection, no final XOR. Used for job
// frames; the result is transmitted little-endian.
func crc16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC5 exposes crc5 for callers that need to verify a frame's checksum
// without re-encoding it, such as a passive frame dissector.
func CRC5(data []byte) uint8 { return crc5(data) }

// CRC16 exposes crc16 for the same reason as CRC5, for job frames.
func CRC16(data []byte) uint16 { return crc16(data) }

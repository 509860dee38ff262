package jobqueue

import (
	"crypto/sha256"
	"math/big"
)

// ExpandNBits decodes the compact "nBits" difficulty encoding into a
// 256-bit big-endian target: the top byte is an exponent, the low three
// bytes a coefficient, target = coefficient * 256^(exponent-3).
func ExpandNBits(nbits uint32) [32]byte {
	exponent := nbits >> 24
	coefficient := new(big.Int).SetUint64(uint64(nbits & 0x007fffff))

	var target big.Int
	if exponent <= 3 {
		shift := uint((3 - exponent) * 8)
		target.Rsh(coefficient, shift)
	} else {
		shift := uint((exponent - 3) * 8)
		target.Lsh(coefficient, shift)
	}

	var out [32]byte
	target.FillBytes(out[:])
	return out
}

// BuildHeader assembles the 80-byte block header for double-SHA-256,
// substituting the reconstructed version and the candidate nonce.
// PrevBlockHash and MerkleRoot are carried exactly as received from the
// wire (they arrive, and are hashed, without endianness conversion).
func BuildHeader(j Job, reconstructedVersion uint32, nonce uint32) [80]byte {
	var h [80]byte
	putLE32(h[0:4], reconstructedVersion)
	copy(h[4:36], j.PrevBlockHash[:])
	copy(h[36:68], j.MerkleRoot[:])
	putLE32(h[68:72], j.NTime)
	putLE32(h[72:76], j.NBits)
	putLE32(h[76:80], nonce)
	return h
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// DoubleSHA256 hashes data twice, as Bitcoin's proof-of-work does.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// MeetsTarget reports whether a double-SHA-256 digest satisfies target.
// Both are compared as big-endian integers after reversing the digest's
// byte order, matching Bitcoin's little-endian hash convention.
func MeetsTarget(digest [32]byte, target [32]byte) bool {
	reversed := reverseBytes(digest)
	h := new(big.Int).SetBytes(reversed[:])
	t := new(big.Int).SetBytes(target[:])
	return h.Cmp(t) <= 0
}

func reverseBytes(b [32]byte) [32]byte {
	var out [32]byte
	for i := range b {
		out[i] = b[31-i]
	}
	return out
}

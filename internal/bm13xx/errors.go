package bm13xx

import "errors"

// Recoverable decode failures. All are resolved by resyncing: skip one
// byte and look for the next AA 55 preamble.
var (
	ErrBadPreamble         = errors.New("bm13xx: bad preamble")
	ErrBadLength           = errors.New("bm13xx: bad length")
	ErrBadCRC              = errors.New("bm13xx: crc mismatch")
	ErrUnknownResponseType = errors.New("bm13xx: unknown response type")
	ErrShortFrame          = errors.New("bm13xx: frame too short")
)

// ErrUnknownChipCount is returned by NonceRange for a chip count that has
// no known-good empirical value.
var ErrUnknownChipCount = errors.New("bm13xx: unknown chip count for NONCE_RANGE")

package bm13xx

import (
	"bytes"
	"testing"
)

func asHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3)
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexDigits[v>>4], hexDigits[v&0xf])
	}
	return string(out)
}

func TestEncodeReadRegisterAll(t *testing.T) {
	got := EncodeReadRegister(true, 0, RegisterChipAddress)
	want := []byte{0x55, 0xaa, 0x52, 0x05, 0x00, 0x00, 0x0a}
	if !bytes.Equal(got, want) {
		t.Fatalf("mismatch\nwant: %s\ngot:  %s", asHex(want), asHex(got))
	}
}

func TestEncodeWriteRegisterBroadcast(t *testing.T) {
	frame := EncodeWriteRegister(true, 0, RegAnalogMuxControl, 0x0000a400)
	if len(frame) != 11 {
		t.Fatalf("expected 11-byte frame, got %d: %s", len(frame), asHex(frame))
	}
	if frame[0] != 0x55 || frame[1] != 0xaa {
		t.Fatalf("bad preamble: %s", asHex(frame))
	}
	if frame[3] != 0x09 {
		t.Fatalf("bad length byte: %#x", frame[3])
	}
	if got := crc5(frame[2:10]); got != frame[10] {
		t.Fatalf("crc mismatch: computed %#x, trailer %#x", got, frame[10])
	}
}

func TestRegisterReadResponseFields(t *testing.T) {
	buf := []byte{0xaa, 0x55, 0x13, 0x70, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	resp, err := DecodeRegisterResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Register.ValueBytes != [4]byte{0x13, 0x70, 0x00, 0x00} {
		t.Fatalf("value bytes: %x", resp.Register.ValueBytes)
	}
	if resp.Register.ChipAddr != 0 || resp.Register.RegAddr != 0 {
		t.Fatalf("chip/reg addr: %d %d", resp.Register.ChipAddr, resp.Register.RegAddr)
	}
	if !resp.Register.IsChipID([2]byte{0x13, 0x70}) {
		t.Fatalf("expected chip-id match for BM1370")
	}
}

func TestRegisterReadResponseRoundTrip(t *testing.T) {
	payload := []byte{0x13, 0x70, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	trailer := crc5(payload)
	buf := append([]byte{0xaa, 0x55}, payload...)
	buf = append(buf, trailer)
	if _, err := DecodeRegisterResponse(buf); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	buf[10] ^= 0xff
	if _, err := DecodeRegisterResponse(buf); err != ErrBadCRC {
		t.Fatalf("expected ErrBadCRC, got %v", err)
	}
}

func TestNonceResponseVersionRolling(t *testing.T) {
	buf := []byte{0xaa, 0x55, 0x18, 0x00, 0xa6, 0x40, 0x02, 0x99, 0x22, 0xf9, crc5([]byte{0x18, 0x00, 0xa6, 0x40, 0x02, 0x99, 0x22, 0xf9})}
	resp, err := DecodeNonceResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != ResponseKindNonce {
		t.Fatalf("expected nonce kind, got %v", resp.Kind)
	}
	if resp.Nonce.JobID != 9 || resp.Nonce.SubcoreID != 9 {
		t.Fatalf("job/subcore: %d %d", resp.Nonce.JobID, resp.Nonce.SubcoreID)
	}
	if resp.Nonce.RolledBits != 0xf922 {
		t.Fatalf("rolled bits: %#x", resp.Nonce.RolledBits)
	}
	const original = uint32(0x20000000)
	if got, want := resp.Nonce.ReconstructVersion(original), original|0x1f244000; got != want {
		t.Fatalf("reconstructed version: got %#x want %#x", got, want)
	}
}

func TestNonceResponseTemperatureClassification(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xb4, 0x00, 0x00}
	buf := append([]byte{0xaa, 0x55}, payload...)
	buf = append(buf, crc5(payload))
	resp, err := DecodeNonceResponse(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != ResponseKindTemperature {
		t.Fatalf("expected temperature classification, got %v", resp.Kind)
	}
}

func TestJobFrameLayout(t *testing.T) {
	var merkle, prev [32]byte
	for i := range merkle {
		merkle[i] = byte(i)
		prev[i] = byte(0xff - i)
	}
	j := Job{
		JobID:         3,
		Version:       0x20000000,
		NTime:         0x67678b5c,
		NBits:         0x170e3ab4,
		MerkleRoot:    merkle,
		PrevBlockHash: prev,
	}
	frame := EncodeJob(j)

	want := []byte{0x55, 0xaa, 0x21, 0x56}
	if !bytes.Equal(frame[:4], want) {
		t.Fatalf("header mismatch: %s", asHex(frame[:4]))
	}
	if frame[4] != 0x18 {
		t.Fatalf("job_header: got %#x want 0x18", frame[4])
	}
	if frame[5] != 0x01 {
		t.Fatalf("num_midstates: got %#x want 0x01", frame[5])
	}
	if !bytes.Equal(frame[6:10], []byte{0, 0, 0, 0}) {
		t.Fatalf("starting_nonce: %s", asHex(frame[6:10]))
	}
	if !bytes.Equal(frame[10:14], []byte{0xb4, 0x3a, 0x0e, 0x17}) {
		t.Fatalf("nbits: %s", asHex(frame[10:14]))
	}
	if !bytes.Equal(frame[14:18], []byte{0x5c, 0x8b, 0x67, 0x67}) {
		t.Fatalf("ntime: %s", asHex(frame[14:18]))
	}
	tail := frame[len(frame)-6:]
	if !bytes.Equal(tail[:4], []byte{0x00, 0x00, 0x00, 0x20}) {
		t.Fatalf("version bytes: %s", asHex(tail[:4]))
	}
	crc := uint16(tail[5])<<8 | uint16(tail[4])
	if got := crc16(frame[2 : len(frame)-2]); got != crc {
		t.Fatalf("crc16: computed %#x, trailer %#x", got, crc)
	}
	if len(frame) != 88 {
		t.Fatalf("total frame length: got %d want 88", len(frame))
	}
}

func TestResync(t *testing.T) {
	buf := []byte{0x00, 0x01, 0xaa, 0x55, 0x02}
	if got := Resync(buf); got != 2 {
		t.Fatalf("resync offset: got %d want 2", got)
	}
	if got := Resync([]byte{0xaa, 0x55}); got != -1 {
		t.Fatalf("resync should skip a false match at offset 0, got %d", got)
	}
	if got := Resync([]byte{0x01, 0x02, 0x03}); got != -1 {
		t.Fatalf("expected no match, got %d", got)
	}
}

func TestNonceRangeUnknownChipCount(t *testing.T) {
	if _, err := NonceRange(7); err != ErrUnknownChipCount {
		t.Fatalf("expected ErrUnknownChipCount, got %v", err)
	}
	if v, err := NonceRange(1); err != nil || v != 0 {
		t.Fatalf("chip count 1: v=%#x err=%v", v, err)
	}
}

func TestDifficultyMaskBitReversal(t *testing.T) {
	if got := ReverseByte(0x01); got != 0x80 {
		t.Fatalf("reverse 0x01: got %#x", got)
	}
	if got := ReverseByte(0xaa); got != 0x55 {
		t.Fatalf("reverse 0xaa: got %#x", got)
	}
}

func TestChipAddressInterval(t *testing.T) {
	if got := ChipAddressInterval(1); got != 0 {
		t.Fatalf("interval for 1 chip: got %d want 0", got)
	}
	if got := ChipAddressInterval(4); got != 64 {
		t.Fatalf("interval for 4 chips: got %d want 64", got)
	}
}

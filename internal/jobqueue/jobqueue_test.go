package jobqueue

import (
	"testing"
	"time"
)

func TestInFlightTableAssignAndLookup(t *testing.T) {
	tbl := NewInFlightTable()
	now := time.Unix(0, 0)

	id, displaced := tbl.Assign(Job{Version: 1}, now)
	if id != 0 {
		t.Fatalf("first assignment: got job_id %d, want 0", id)
	}
	if displaced != nil {
		t.Fatalf("first assignment should not displace anything, got %+v", displaced)
	}

	snap, err := tbl.Lookup(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if snap.Job.Version != 1 {
		t.Fatalf("lookup returned wrong job: %+v", snap.Job)
	}
}

func TestInFlightTableWrapsAtSeventeenthJob(t *testing.T) {
	tbl := NewInFlightTable()
	now := time.Unix(0, 0)

	var firstID uint8
	for i := 0; i < slotCount; i++ {
		id, displaced := tbl.Assign(Job{Version: uint32(i)}, now)
		if i == 0 {
			firstID = id
		}
		if displaced != nil {
			t.Fatalf("assignment %d should not displace, table not yet full", i)
		}
	}

	// The 17th assignment wraps around and must reuse and evict slot 0.
	id, displaced := tbl.Assign(Job{Version: 100}, now)
	if id != firstID {
		t.Fatalf("17th assignment: got job_id %d, want reused slot %d", id, firstID)
	}
	if displaced == nil {
		t.Fatalf("17th assignment should have displaced the original job in slot %d", firstID)
	}
	if displaced.Job.Version != 0 {
		t.Fatalf("displaced snapshot has wrong job: %+v", displaced.Job)
	}

	if _, err := tbl.Lookup(id); err != nil {
		t.Fatalf("lookup after wrap: %v", err)
	}
}

func TestInFlightTableStaleWorkDiscardedAfterRetireAll(t *testing.T) {
	tbl := NewInFlightTable()
	now := time.Unix(0, 0)

	id, _ := tbl.Assign(Job{Version: 1}, now)
	if id != 0x00 {
		t.Fatalf("expected first job at slot 0x00, got %#x", id)
	}

	tbl.RetireAll()

	next, _ := tbl.Assign(Job{Version: 2}, now)
	if next != 0x01 {
		t.Fatalf("expected next assignment to continue in ring order at slot 0x01 after retire-all, got %#x", next)
	}

	// A nonce for job_id 0x30 (out of the 4-bit range; masked to 0x00)
	// lands on the retired slot and must be reported as not-in-flight,
	// so the stale job's nonce is discarded.
	if _, err := tbl.Lookup(0x30 & 0x0f); err != ErrJobIDNotInFlight {
		t.Fatalf("expected ErrJobIDNotInFlight for the retired slot 0x00, got %v", err)
	}

	// The new job sits in its own slot, so a nonce for it cannot be
	// confused with a late nonce for the retired job_id 0x00.
	snap, err := tbl.Lookup(next)
	if err != nil {
		t.Fatalf("lookup slot %#x after reassignment: %v", next, err)
	}
	if snap.Job.Version != 2 {
		t.Fatalf("expected reassigned job, got %+v", snap.Job)
	}
}

func TestInFlightTableRetireSingle(t *testing.T) {
	tbl := NewInFlightTable()
	now := time.Unix(0, 0)

	id, _ := tbl.Assign(Job{Version: 1}, now)
	tbl.Retire(id)

	if _, err := tbl.Lookup(id); err != ErrJobIDNotInFlight {
		t.Fatalf("expected ErrJobIDNotInFlight after retiring slot, got %v", err)
	}
}

func TestExpandNBitsMatchesKnownDifficulty1Target(t *testing.T) {
	// 0x1d00ffff is Bitcoin's genesis-era difficulty-1 target:
	// 0x00000000ffff0000000000000000000000000000000000000000000000000000
	target := ExpandNBits(0x1d00ffff)

	want := [32]byte{}
	want[4] = 0xff
	want[5] = 0xff
	if target != want {
		t.Fatalf("got %x, want %x", target, want)
	}
}

func TestMeetsTargetOrdering(t *testing.T) {
	target := ExpandNBits(0x1d00ffff)

	// A digest whose reversed (little-endian-display) big integer is much
	// smaller than target must pass; one that is larger must fail.
	var lowDigest [32]byte
	lowDigest[0] = 0x01 // reversed puts this in the lowest-order byte: tiny value

	var highDigest [32]byte
	for i := range highDigest {
		highDigest[i] = 0xff
	}

	if !MeetsTarget(lowDigest, target) {
		t.Fatalf("expected low digest to meet target")
	}
	if MeetsTarget(highDigest, target) {
		t.Fatalf("expected all-0xff digest to fail target")
	}
}

func TestBuildHeaderLayout(t *testing.T) {
	j := Job{
		NTime: 0x11223344,
		NBits: 0x1d00ffff,
	}
	j.PrevBlockHash[0] = 0xAA
	j.MerkleRoot[0] = 0xBB

	h := BuildHeader(j, 0x20000000, 0xdeadbeef)

	if h[0] != 0x00 || h[3] != 0x20 {
		t.Fatalf("version not little-endian at offset 0: %x", h[0:4])
	}
	if h[4] != 0xAA {
		t.Fatalf("prev block hash not copied verbatim: %x", h[4])
	}
	if h[36] != 0xBB {
		t.Fatalf("merkle root not copied verbatim: %x", h[36])
	}
	if h[68] != 0x44 || h[71] != 0x11 {
		t.Fatalf("ntime not little-endian: %x", h[68:72])
	}
	if h[72] != 0xff || h[75] != 0x1d {
		t.Fatalf("nbits not little-endian: %x", h[72:76])
	}
	if h[76] != 0xef || h[79] != 0xde {
		t.Fatalf("nonce not little-endian: %x", h[76:80])
	}
}

// Package hashthread implements the per-chain ASIC actor: it owns the
// data-port reader and writer for one BM13xx chain, accepts jobs from
// the scheduler, decodes nonce responses, validates them against the
// job's target, and reports shares upward. Grounded on the actor shape
// of a Rust-style command/event loop, translated to Go's
// goroutine-and-channel idiom.
package hashthread

import "github.com/mujina-miner/mujina-miner/internal/jobqueue"

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventGoingOffline EventKind = iota
	EventShareAccepted
	EventShareRejected
	EventStatus
)

// Event is sent on the events channel given to NewThread when the
// thread goes offline and on every share outcome. ShareRejected covers a nonce that failed target
// validation (a hardware error, distinct from a stale/discarded nonce,
// which produces no event at all).
type Event struct {
	Kind    EventKind
	Nonce   jobqueue.Nonce
	JobID   uint8
	Status  Status
	Message string
	Share   Share
}

// Share is the value an external pool submitter would forward upstream
// on EventShareAccepted: the rolled header fields needed to rebuild the
// exact block header the ASIC hashed, without this repo needing to know
// anything about the stratum submission format itself.
type Share struct {
	Job     jobqueue.Job
	Version uint32
	Nonce   uint32
}

// Status is a point-in-time snapshot of thread activity, reported on
// EventStatus.
type Status struct {
	SharesAccepted uint64
	SharesRejected uint64
	NoncesStale    uint64
}

// Package scheduler routes mining work from a job source to every hash
// board's threads, offsetting each board's timestamp so disjoint chip
// nonce ranges never overlap in the search space, and propagates
// retire-all signals on a new block template.
package scheduler

// Template is a work unit as it arrives from a job source, before the
// scheduler applies a per-board ntime offset and hands it to a thread.
type Template struct {
	// ID is the source's own identifier for this template, carried
	// through for logging; it is not part of the wire job.
	ID            string
	Version       uint32
	PrevBlockHash [32]byte
	MerkleRoot    [32]byte
	NTime         uint32
	NBits         uint32
	VersionMask   uint32
}

// JobSource is the collaborator an external pool client (Stratum v1/v2)
// or a local fallback generator satisfies. Templates delivers a new
// template whenever pool work changes; the scheduler treats every value
// received as superseding all in-flight work on every board.
type JobSource interface {
	Templates() <-chan Template
}

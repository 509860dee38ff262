package jobqueue

import (
	"errors"
	"time"
)

// slotCount is the number of job_id values the 4-bit field can carry.
const slotCount = 16

// ErrJobIDNotInFlight is returned when a nonce references a job_id with
// no live entry: either it was never assigned or has since been retired.
var ErrJobIDNotInFlight = errors.New("jobqueue: job_id not in flight")

// InFlightTable is a hash thread's 16-slot rotating job pool. Slots are
// assigned in ring order; when all 16 are occupied the oldest
// (lowest-index-by-allocation-order, i.e. the next one in ring order) is
// reused, matching the ASIC's own reuse of a 4-bit job_id.
type InFlightTable struct {
	slots [slotCount]*Snapshot
	next  uint8
}

// NewInFlightTable returns an empty table.
func NewInFlightTable() *InFlightTable {
	return &InFlightTable{}
}

// Assign records a new job at the next slot in ring order, overwriting
// whatever was there (the 17th assignment reuses slot 0, discarding the
// first job's entry even if a nonce for it is still in flight — this
// mirrors the ASIC's own finite job_id space). It returns the job_id
// the job was assigned and the snapshot it displaced, if any.
func (t *InFlightTable) Assign(j Job, issuedAt time.Time) (uint8, *Snapshot) {
	id := t.next
	displaced := t.slots[id]
	j.JobID = id
	t.slots[id] = &Snapshot{Job: j, IssuedAt: issuedAt}
	t.next = (t.next + 1) % slotCount
	return id, displaced
}

// Lookup returns the snapshot for a job_id, or ErrJobIDNotInFlight if
// the slot is empty (never assigned or already retired).
func (t *InFlightTable) Lookup(jobID uint8) (Snapshot, error) {
	s := t.slots[jobID%slotCount]
	if s == nil {
		return Snapshot{}, ErrJobIDNotInFlight
	}
	return *s, nil
}

// RetireAll clears every slot, used when the scheduler signals a new
// block template: every outstanding job becomes stale and any nonce
// for it must be silently discarded rather than treated as a hardware
// error.
func (t *InFlightTable) RetireAll() {
	for i := range t.slots {
		t.slots[i] = nil
	}
}

// Retire clears a single slot once its job has been superseded.
func (t *InFlightTable) Retire(jobID uint8) {
	t.slots[jobID%slotCount] = nil
}

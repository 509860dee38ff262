package scheduler

import (
	"context"
	"fmt"
	"time"
)

// fallbackInterval is how often the fallback source rolls a new
// template while no pool client is registering real work. Bitcoin's
// block header timestamp only needs second resolution, so this comes
// nowhere near saturating it.
const fallbackInterval = 30 * time.Second

// FallbackSource generates locally-rolled templates against a fixed,
// deliberately easy target, keeping every board's ASIC chain hashing
// during a pool outage instead of sitting idle and thermally cycling.
// It never produces a submittable share on real difficulty; its only
// job is to keep silicon busy. Grounded on the "keep chips busy during
// network outages" fallback job generator.
type FallbackSource struct {
	nbits   uint32
	version uint32
	out     chan Template
	seq     uint64
}

// NewFallbackSource returns a source that rolls a new dummy template
// every fallbackInterval. nbits should decode to an easy target (the
// caller is responsible for not accidentally using pool difficulty
// here, which would flood logs with meets-target nonces that can never
// be submitted anywhere).
func NewFallbackSource(nbits, version uint32) *FallbackSource {
	return &FallbackSource{
		nbits:   nbits,
		version: version,
		out:     make(chan Template, 1),
	}
}

// Templates implements JobSource.
func (f *FallbackSource) Templates() <-chan Template { return f.out }

// Run rolls a new template immediately and then on every tick, until
// ctx is cancelled. The prev-block-hash and merkle root are left zero:
// this source exists to keep chips busy, not to build valid blocks.
func (f *FallbackSource) Run(ctx context.Context) {
	f.emit()
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.emit()
		}
	}
}

func (f *FallbackSource) emit() {
	f.seq++
	tmpl := Template{
		ID:      fmt.Sprintf("fallback-%d", f.seq),
		Version: f.version,
		NTime:   uint32(time.Now().Unix()),
		NBits:   f.nbits,
	}
	select {
	case f.out <- tmpl:
	default:
		// Drop rather than block; the previous fallback template is
		// still perfectly usable if the scheduler hasn't drained it yet.
	}
}

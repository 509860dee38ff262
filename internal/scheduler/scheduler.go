package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/hashthread"
	"github.com/mujina-miner/mujina-miner/internal/jobqueue"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
)

// threadReplaceTimeout bounds how long the scheduler waits for a single
// board's thread to acknowledge a job push before moving on to the
// next; a wedged board must never stall work distribution to the rest
// of the chain.
const threadReplaceTimeout = 2 * time.Second

// Scheduler consumes hash-thread handles as boards come online, routes
// job templates into every thread with a per-board ntime offset, and
// aggregates share outcomes across the whole chain.
type Scheduler struct {
	source     JobSource
	threadsIn  <-chan *hashthread.Thread
	hashEvents <-chan hashthread.Event
	shares     chan hashthread.Share
	log        *slog.Logger

	threads []*hashthread.Thread
	current *Template

	mu    sync.Mutex
	stats Stats
}

// Stats is a snapshot of aggregate share counters across every board's
// thread, taken at the time Stats() is called. Counters are summed
// across boards as events arrive rather than read from each thread's
// own cumulative Status, since an Event does not identify its source
// thread.
type Stats struct {
	SharesAccepted uint64
	SharesRejected uint64
	BoardCount     int
}

// New constructs a Scheduler. threadsIn delivers a hash thread each time
// a board finishes initializing (typically Backplane's threadsOut);
// hashEvents is the channel every board's threads were constructed to
// share (BoardFactoryConfig.HashEvents), fed back here for aggregation.
func New(source JobSource, threadsIn <-chan *hashthread.Thread, hashEvents <-chan hashthread.Event) *Scheduler {
	return &Scheduler{
		source:     source,
		threadsIn:  threadsIn,
		hashEvents: hashEvents,
		shares:     make(chan hashthread.Share, 64),
		log:        mlog.For("scheduler"),
	}
}

// Shares delivers every accepted share as it is validated, for an
// external pool submitter to forward upstream. The caller owns draining
// it for the scheduler's lifetime.
func (s *Scheduler) Shares() <-chan hashthread.Share { return s.shares }

// Stats returns a snapshot of aggregate counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat := s.stats
	stat.BoardCount = len(s.threads)
	return stat
}

// Run drives the scheduler until ctx is cancelled: new threads are
// registered and immediately caught up to the current template (if
// any), new templates retire all in-flight work and are pushed to
// every registered thread, and hash-thread events are aggregated into
// Stats and forwarded on Shares for accepted shares.
func (s *Scheduler) Run(ctx context.Context) {
	templates := s.source.Templates()
	for {
		select {
		case <-ctx.Done():
			return

		case th, ok := <-s.threadsIn:
			if !ok {
				s.threadsIn = nil
				continue
			}
			s.registerThread(ctx, th)

		case tmpl, ok := <-templates:
			if !ok {
				templates = nil
				continue
			}
			s.applyTemplate(ctx, tmpl)

		case ev, ok := <-s.hashEvents:
			if !ok {
				s.hashEvents = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Scheduler) registerThread(ctx context.Context, th *hashthread.Thread) {
	index := len(s.threads)
	s.threads = append(s.threads, th)
	s.log.Info("hash thread registered", "board_index", index)

	if s.current == nil {
		return
	}
	job := jobForBoard(*s.current, index)
	replaceCtx, cancel := context.WithTimeout(ctx, threadReplaceTimeout)
	defer cancel()
	if err := th.ReplaceWork(replaceCtx, job); err != nil {
		s.log.Warn("failed to catch up newly registered thread to current template", "err", err)
	}
}

func (s *Scheduler) applyTemplate(ctx context.Context, tmpl Template) {
	s.current = &tmpl
	s.log.Info("new job template", "template_id", tmpl.ID, "boards", len(s.threads))

	for i, th := range s.threads {
		job := jobForBoard(tmpl, i)
		replaceCtx, cancel := context.WithTimeout(ctx, threadReplaceTimeout)
		err := th.ReplaceWork(replaceCtx, job)
		cancel()
		if err != nil {
			s.log.Warn("failed to push template to board", "board_index", i, "err", err)
		}
	}
}

// jobForBoard applies the ntime offset that keeps disjoint boards from
// searching the same nonce space: board i mines with ntime += i, so
// combined with per-chip NONCE_RANGE partitioning, no two boards can
// ever produce the same header.
func jobForBoard(tmpl Template, boardIndex int) jobqueue.Job {
	return jobqueue.Job{
		Version:       tmpl.Version,
		PrevBlockHash: tmpl.PrevBlockHash,
		MerkleRoot:    tmpl.MerkleRoot,
		NTime:         tmpl.NTime + uint32(boardIndex),
		NBits:         tmpl.NBits,
		VersionMask:   tmpl.VersionMask,
	}
}

func (s *Scheduler) handleEvent(ev hashthread.Event) {
	s.mu.Lock()
	switch ev.Kind {
	case hashthread.EventShareAccepted:
		s.stats.SharesAccepted++
	case hashthread.EventShareRejected:
		s.stats.SharesRejected++
	}
	s.mu.Unlock()

	if ev.Kind == hashthread.EventShareAccepted {
		select {
		case s.shares <- ev.Share:
		default:
			s.log.Warn("share channel full, dropping share")
		}
	}
}

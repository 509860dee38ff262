package hashthread

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mujina-miner/mujina-miner/internal/bm13xx"
	"github.com/mujina-miner/mujina-miner/internal/jobqueue"
	"github.com/mujina-miner/mujina-miner/internal/mlog"
)

// ErrThreadStopped is returned by command methods once the thread's
// loop has exited (shutdown completed or the data port died).
var ErrThreadStopped = errors.New("hashthread: thread stopped")

// readChunkSize is the buffer size for a single blocking read of the
// data port; reads are OS-driven, not polled, so this only bounds how
// much a single wakeup can deliver.
const readChunkSize = 256

type readResult struct {
	data []byte
	err  error
}

// Thread is the per-chain actor owning one data port. It is created
// after chip discovery transfers data-port ownership from the Board,
// and it runs until Shutdown is called or the port itself errors out.
type Thread struct {
	port      io.ReadWriteCloser
	chipCount int
	table     *jobqueue.InFlightTable
	events    chan<- Event
	cmdCh     chan command
	log       *slog.Logger

	stopped chan struct{}
}

// NewThread constructs a Thread bound to the given data port. events
// receives lifecycle and share notifications; the caller owns draining
// it for the lifetime of the thread.
func NewThread(port io.ReadWriteCloser, chipCount int, events chan<- Event) *Thread {
	return &Thread{
		port:      port,
		chipCount: chipCount,
		table:     jobqueue.NewInFlightTable(),
		events:    events,
		cmdCh:     make(chan command),
		log:       mlog.For("hashthread"),
		stopped:   make(chan struct{}),
	}
}

// Run drives the actor loop until ctx is cancelled or Shutdown is
// called. It blocks; callers invoke it in its own goroutine.
func (t *Thread) Run(ctx context.Context) {
	defer close(t.stopped)

	readCh := make(chan readResult)
	go t.readLoop(readCh)

	var buf []byte
	var status Status

	for {
		select {
		case <-ctx.Done():
			t.port.Close()
			t.drainUntilReaderExits(readCh)
			t.emit(Event{Kind: EventGoingOffline, Status: status})
			return

		case cmd := <-t.cmdCh:
			switch cmd.kind {
			case cmdUpdateWork:
				cmd.reply <- t.issue(cmd.job)
			case cmdReplaceWork:
				t.table.RetireAll()
				cmd.reply <- t.issue(cmd.job)
			case cmdGoIdle:
				t.table.RetireAll()
				cmd.reply <- nil
			case cmdShutdown:
				t.port.Close()
				t.drainUntilReaderExits(readCh)
				cmd.reply <- nil
				t.emit(Event{Kind: EventGoingOffline, Status: status})
				return
			}

		case res, ok := <-readCh:
			if !ok {
				t.emit(Event{Kind: EventGoingOffline, Status: status})
				return
			}
			if res.err != nil {
				t.log.Warn("data port read failed", "err", res.err)
				t.emit(Event{Kind: EventGoingOffline, Status: status})
				return
			}
			buf = append(buf, res.data...)
			buf = t.processFrames(buf, &status)
		}
	}
}

// drainUntilReaderExits waits for the reader goroutine to notice the
// closed port and exit, so Run never returns while a goroutine is
// still holding a reference to the port.
func (t *Thread) drainUntilReaderExits(readCh chan readResult) {
	for range readCh {
	}
}

func (t *Thread) readLoop(out chan<- readResult) {
	defer close(out)
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- readResult{data: chunk}
		}
		if err != nil {
			if err != io.EOF {
				out <- readResult{err: err}
			}
			return
		}
	}
}

// issue assigns a job_id from the 16-slot pool and writes the job
// frame. It never returns an error from the write path being full;
// the pool always has a slot (the oldest is reused).
func (t *Thread) issue(j jobqueue.Job) error {
	id, displaced := t.table.Assign(j, time.Now())
	if displaced != nil {
		t.log.Debug("job_id reused before its nonce arrived", "job_id", id)
	}

	frame := bm13xx.EncodeJob(bm13xx.Job{
		JobID:         id,
		Version:       j.Version,
		PrevBlockHash: j.PrevBlockHash,
		MerkleRoot:    j.MerkleRoot,
		NTime:         j.NTime,
		NBits:         j.NBits,
		StartingNonce: j.StartingNonce,
	})

	if _, err := t.port.Write(frame); err != nil {
		return err
	}
	return nil
}

// processFrames decodes as many complete nonce responses as buf holds,
// resyncing past bad preambles or CRCs, and returns the unconsumed
// remainder.
func (t *Thread) processFrames(buf []byte, status *Status) []byte {
	const frameLen = 11
	for {
		if len(buf) < frameLen {
			return buf
		}
		resp, err := bm13xx.DecodeNonceResponse(buf[:frameLen])
		if err != nil {
			off := bm13xx.Resync(buf)
			if off < 0 {
				if len(buf) > 1 {
					return buf[len(buf)-1:]
				}
				return buf
			}
			buf = buf[off:]
			continue
		}
		t.handleResponse(resp, status)
		buf = buf[frameLen:]
	}
}

func (t *Thread) handleResponse(resp bm13xx.Response, status *Status) {
	if resp.Kind != bm13xx.ResponseKindNonce {
		return
	}
	n := resp.Nonce

	snap, err := t.table.Lookup(n.JobID)
	if err != nil {
		status.NoncesStale++
		return
	}

	version := n.ReconstructVersion(snap.Job.Version)
	header := jobqueue.BuildHeader(snap.Job, version, n.Nonce)
	digest := jobqueue.DoubleSHA256(header[:])
	target := jobqueue.ExpandNBits(snap.Job.NBits)

	decoded := jobqueue.Nonce{
		MainCore:  n.MainCoreID,
		Value:     n.Nonce,
		JobID:     n.JobID,
		SubCore:   n.SubcoreID,
		RolledBit: n.RolledBits,
	}

	if jobqueue.MeetsTarget(digest, target) {
		status.SharesAccepted++
		share := Share{Job: snap.Job, Version: version, Nonce: n.Nonce}
		t.emit(Event{Kind: EventShareAccepted, Nonce: decoded, JobID: n.JobID, Status: *status, Share: share})
		return
	}
	status.SharesRejected++
	t.emit(Event{Kind: EventShareRejected, Nonce: decoded, JobID: n.JobID, Status: *status, Message: "nonce did not meet job target"})
}

func (t *Thread) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("event channel full, dropping event", "kind", ev.Kind)
	}
}

func (t *Thread) send(ctx context.Context, kind commandKind, job jobqueue.Job) error {
	reply := make(chan error, 1)
	select {
	case t.cmdCh <- command{kind: kind, job: job, reply: reply}:
	case <-t.stopped:
		return ErrThreadStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-t.stopped:
		return ErrThreadStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateWork issues a new job while the thread has no outstanding work
// context, or alongside whatever is already in flight (job_ids do not
// collide until the pool wraps).
func (t *Thread) UpdateWork(ctx context.Context, j jobqueue.Job) error {
	return t.send(ctx, cmdUpdateWork, j)
}

// ReplaceWork retires every in-flight job before issuing j, used when
// the scheduler signals a new block template: any nonce for the
// retired jobs that arrives afterward is discarded as stale rather
// than raised as a hardware error.
func (t *Thread) ReplaceWork(ctx context.Context, j jobqueue.Job) error {
	return t.send(ctx, cmdReplaceWork, j)
}

// GoIdle retires all in-flight jobs without issuing a new one.
func (t *Thread) GoIdle(ctx context.Context) error {
	return t.send(ctx, cmdGoIdle, jobqueue.Job{})
}

// Shutdown closes the data port and waits for the actor loop to exit.
func (t *Thread) Shutdown(ctx context.Context) error {
	return t.send(ctx, cmdShutdown, jobqueue.Job{})
}

package hashthread

import "github.com/mujina-miner/mujina-miner/internal/jobqueue"

type commandKind int

const (
	cmdUpdateWork commandKind = iota
	cmdReplaceWork
	cmdGoIdle
	cmdShutdown
)

// command is sent over Thread's single command channel; reply carries
// the outcome back to the caller, standing in for a oneshot channel.
type command struct {
	kind  commandKind
	job   jobqueue.Job
	reply chan error
}

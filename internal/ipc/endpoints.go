// Package ipc implements the cross-process transport that stands in for
// the source's shared-memory multiprocessing primitives: the three MPMC
// queues (spec.md §3, §5), the single-writer Phase broadcast, and the
// one-shot model_init_event. It is built on ZeroMQ
// (github.com/pebbe/zmq4), the same transport family the pack's
// networking/zmq4 package and cmd/consensus binary use for cross-process
// messaging, so the process-per-GPU topology in spec.md §5/§9 survives
// the move from Python's torch.multiprocessing to Go's os/exec.
package ipc

import "fmt"

// Endpoints names every socket address a ParallelController binds and
// every Worker connects to. Addresses are local inter-process (ipc://) by default
// so a single-host multi-GPU node never touches a real network
// interface; a TCP scheme also works unmodified for a disaggregated
// deployment.
type Endpoints struct {
	Generated   string // workers PUSH, sender/controller PULL (bind)
	Validated   string // workers PUSH, sender/controller PULL (bind)
	ToValidate  string // controller PUSH (bind), workers PULL (connect)
	PhasePub    string // controller PUB (bind), workers SUB (connect)
	Ready       string // workers PUSH, controller PULL (bind)
}

// DefaultEndpoints returns a set of unique ipc:// socket paths for
// sessionID, suitable for a single-host deployment.
func DefaultEndpoints(sessionID string) Endpoints {
	return Endpoints{
		Generated:  fmt.Sprintf("ipc:///tmp/pow-%s-generated.sock", sessionID),
		Validated:  fmt.Sprintf("ipc:///tmp/pow-%s-validated.sock", sessionID),
		ToValidate: fmt.Sprintf("ipc:///tmp/pow-%s-to-validate.sock", sessionID),
		PhasePub:   fmt.Sprintf("ipc:///tmp/pow-%s-phase.sock", sessionID),
		Ready:      fmt.Sprintf("ipc:///tmp/pow-%s-ready.sock", sessionID),
	}
}

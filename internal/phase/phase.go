// Package phase defines the shared Phase enum that drives every Worker's
// dispatch loop (spec.md §3, §4.3, §5). Phase itself is a plain integer
// enum; how it is propagated across the process boundary (single writer,
// many readers, lock-free reads) lives in internal/ipc.
package phase

import "fmt"

// Phase is the shared mode of all workers in a session.
type Phase int32

const (
	// IDLE is the initial/idle state: workers sleep briefly and re-poll.
	IDLE Phase = iota
	// GENERATE: workers enumerate nonces and submit them to Compute.
	GENERATE
	// VALIDATE: workers drain the to_validate queue and recompute distances.
	VALIDATE
	// STOP is terminal. No phase transition is observed after STOP.
	STOP
)

func (p Phase) String() string {
	switch p {
	case IDLE:
		return "IDLE"
	case GENERATE:
		return "GENERATE"
	case VALIDATE:
		return "VALIDATE"
	case STOP:
		return "STOP"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

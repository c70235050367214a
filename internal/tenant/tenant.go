// Package tenant defines the Tenant interface the Manager arbitrates
// between, so the single-GPU exclusivity invariant (spec.md §5, "PoW,
// vLLM inference and training never run on the same device
// simultaneously") is enforced against any tenant, not just PoW. vLLM
// and training are out of scope (spec.md §1 Non-goals); Noop is the
// stand-in used for them here.
package tenant

// Tenant is anything the Manager can exclusively grant a device to.
type Tenant interface {
	// Start begins using the device(s). Called with the Manager's
	// exclusivity lock already held to the caller, never concurrently
	// with another tenant's Start/Stop.
	Start() error
	// Stop releases the device(s). Must be safe to call on an already
	// stopped Tenant.
	Stop() error
	// Running reports whether this tenant currently holds the device.
	Running() bool
}

// Noop is a Tenant that never actually runs anything; it stands in for
// the vLLM inference and training tenants, whose real implementations
// are out of scope for this node.
type Noop struct {
	running bool
}

// NewNoop returns a Tenant that tracks Running state without doing
// anything else.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Start() error {
	n.running = true
	return nil
}

func (n *Noop) Stop() error {
	n.running = false
	return nil
}

func (n *Noop) Running() bool { return n.running }

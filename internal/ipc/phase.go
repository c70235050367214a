package ipc

import (
	"sync/atomic"

	zmq "github.com/pebbe/zmq4"

	"github.com/gonka-ai/gonka/internal/phase"
)

// PhaseBroadcaster is the controller side of the single-writer Phase
// value (spec.md §5): a PUB socket every Worker subscribes to, replacing
// the source's shared multiprocessing.Value guarded by a lock.
type PhaseBroadcaster struct {
	sock *zmq.Socket
}

// NewPhaseBroadcaster binds a PUB socket at endpoint.
func NewPhaseBroadcaster(endpoint string) (*PhaseBroadcaster, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &PhaseBroadcaster{sock: sock}, nil
}

// Set publishes p to every subscriber. PUB/SUB has no backpressure and no
// acknowledgement; a Worker that misses a transition picks up the next
// one it's in when it next polls, same as a stale read of a shared value.
func (b *PhaseBroadcaster) Set(p phase.Phase) error {
	_, err := b.sock.Send(string([]byte{byte(p)}), 0)
	return err
}

func (b *PhaseBroadcaster) Close() error { return b.sock.Close() }

// PhaseSubscriber is the worker side: a SUB socket that caches the last
// Phase it saw in an atomic so callers can read it without blocking or
// locking, mirroring the source's lock-free read of the shared Value.
type PhaseSubscriber struct {
	sock    *zmq.Socket
	current atomic.Int32
	stop    chan struct{}
	stopped chan struct{}
}

// NewPhaseSubscriber connects a SUB socket to endpoint, subscribes to
// every message, and starts a background goroutine that keeps current
// up to date until Close is called. initial is the phase reported before
// the first message arrives.
func NewPhaseSubscriber(endpoint string, initial phase.Phase) (*PhaseSubscriber, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetSubscribe(""); err != nil {
		sock.Close()
		return nil, err
	}

	s := &PhaseSubscriber{sock: sock, stop: make(chan struct{}), stopped: make(chan struct{})}
	s.current.Store(int32(initial))
	go s.run()
	return s, nil
}

func (s *PhaseSubscriber) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.sock.SetRcvtimeo(pollInterval); err != nil {
			return
		}
		msg, err := s.sock.Recv(0)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		if len(msg) != 1 {
			continue
		}
		s.current.Store(int32(msg[0]))
	}
}

// Current returns the last Phase observed, without blocking.
func (s *PhaseSubscriber) Current() phase.Phase {
	return phase.Phase(s.current.Load())
}

// Close stops the background goroutine and releases the socket. It waits
// for run to observe stop and return before closing sock, since a zmq
// socket cannot be closed safely while a Recv on it is still in flight.
func (s *PhaseSubscriber) Close() error {
	close(s.stop)
	<-s.stopped
	return s.sock.Close()
}

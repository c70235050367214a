package ipc

import (
	"encoding/json"
	"errors"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ErrPutTimeout is returned by Sink.Put when the socket's send buffer does
// not drain within the configured timeout -- spec.md §4.3's "blocking put
// with 10s timeout; on timeout, raise interrupt flag" and §7's
// QueueBackpressure.
var ErrPutTimeout = errors.New("ipc: queue put timed out")

// isTimeout reports whether err is the EAGAIN a ZeroMQ socket returns when
// SNDTIMEO/RCVTIMEO elapses (or a DONTWAIT call finds nothing queued).
func isTimeout(err error) bool {
	return errors.Is(err, syscall.EAGAIN)
}

// Sink is the producer side of one of the three MPMC queues: a PUSH
// socket connected (or bound, for the controller->worker direction) to
// one or more peers.
type Sink[T any] struct {
	sock *zmq.Socket
}

// Source is the consumer side of a queue: a PULL socket.
type Source[T any] struct {
	sock *zmq.Socket
}

// NewPushConnect returns a Sink that connects a PUSH socket to endpoint.
// Used by Workers to publish into the generated/validated queues, whose
// PULL side is bound by the controller/sender.
func NewPushConnect[T any](endpoint string) (*Sink[T], error) {
	sock, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &Sink[T]{sock: sock}, nil
}

// NewPushBind returns a Sink that binds a PUSH socket at endpoint. Used by
// the controller to publish into the to_validate queue, whose PULL side
// each Worker connects to.
func NewPushBind[T any](endpoint string) (*Sink[T], error) {
	sock, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &Sink[T]{sock: sock}, nil
}

// NewPullBind returns a Source that binds a PULL socket at endpoint. Used
// by the controller/sender to aggregate what every connected Worker
// pushes.
func NewPullBind[T any](endpoint string) (*Source[T], error) {
	sock, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &Source[T]{sock: sock}, nil
}

// NewPullConnect returns a Source that connects a PULL socket to
// endpoint. Used by a Worker to receive the to_validate queue the
// controller pushes into.
func NewPullConnect[T any](endpoint string) (*Source[T], error) {
	sock, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &Source[T]{sock: sock}, nil
}

// Put sends v, blocking for at most timeout before returning
// ErrPutTimeout. A zero timeout blocks indefinitely.
func (s *Sink[T]) Put(v T, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.sock.SetSndtimeo(timeout); err != nil {
		return err
	}
	if _, err := s.sock.SendBytes(data, 0); err != nil {
		if isTimeout(err) {
			return ErrPutTimeout
		}
		return err
	}
	return nil
}

// TryGet performs a non-blocking receive, returning ok=false (no error)
// if nothing is queued. Used by get_generated/get_validated's
// "non-blocking drain into a caller-owned vector" (spec.md §4.4).
func (s *Source[T]) TryGet() (v T, ok bool, err error) {
	data, rerr := s.sock.RecvBytes(zmq.DONTWAIT)
	if rerr != nil {
		if isTimeout(rerr) {
			return v, false, nil
		}
		return v, false, rerr
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Get blocks for at most timeout waiting for a value. ok is false (no
// error) on timeout.
func (s *Source[T]) Get(timeout time.Duration) (v T, ok bool, err error) {
	if err := s.sock.SetRcvtimeo(timeout); err != nil {
		return v, false, err
	}
	data, rerr := s.sock.RecvBytes(0)
	if rerr != nil {
		if isTimeout(rerr) {
			return v, false, nil
		}
		return v, false, rerr
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// DrainAll performs TryGet in a loop until the queue is empty, appending
// every value it sees into a caller-owned slice.
func (s *Source[T]) DrainAll() ([]T, error) {
	var out []T
	for {
		v, ok, err := s.TryGet()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Close releases the underlying socket.
func (s *Sink[T]) Close() error   { return s.sock.Close() }
func (s *Source[T]) Close() error { return s.sock.Close() }

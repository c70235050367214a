package ipc

import "time"

// pollInterval bounds how long PhaseSubscriber.run blocks on a single
// recv before checking for shutdown, so Close returns
// promptly instead of waiting out a full RCVTIMEO.
const pollInterval = 200 * time.Millisecond

// readyMsg is the one-shot signal a Worker pushes after it finishes
// building its Model, standing in for the source's per-device
// multiprocessing.Event (spec.md §5 "model_init_event").
type readyMsg struct {
	DeviceID int `json:"device_id"`
}

// ReadySink is a Worker's side of the ready signal: a PUSH socket it uses
// exactly once, after Model construction succeeds.
type ReadySink struct {
	sink *Sink[readyMsg]
}

// NewReadySink connects to the controller's ready endpoint.
func NewReadySink(endpoint string) (*ReadySink, error) {
	sink, err := NewPushConnect[readyMsg](endpoint)
	if err != nil {
		return nil, err
	}
	return &ReadySink{sink: sink}, nil
}

// Signal reports deviceID as ready. It is expected to be called at most
// once per Worker's lifetime.
func (r *ReadySink) Signal(deviceID int) error {
	return r.sink.Put(readyMsg{DeviceID: deviceID}, 10*time.Second)
}

func (r *ReadySink) Close() error { return r.sink.Close() }

// ReadySource is the controller's side: a PULL socket it drains to learn
// which devices have finished initializing, so pow/status can report
// "loading" until every expected device has reported in.
type ReadySource struct {
	source *Source[readyMsg]
}

// NewReadySource binds the controller's ready endpoint.
func NewReadySource(endpoint string) (*ReadySource, error) {
	source, err := NewPullBind[readyMsg](endpoint)
	if err != nil {
		return nil, err
	}
	return &ReadySource{source: source}, nil
}

// Drain returns the device IDs that have signalled ready since the last
// call, without blocking.
func (r *ReadySource) Drain() ([]int, error) {
	msgs, err := r.source.DrainAll()
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.DeviceID
	}
	return ids, nil
}

func (r *ReadySource) Close() error { return r.source.Close() }

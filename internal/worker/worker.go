// Package worker implements the per-device dispatch loop a pow-worker
// process runs: build a deterministic Compute, signal readiness, then
// poll the shared Phase and generate or validate until told to stop.
// Translated from packages/proof-of-work/src/pow/compute/worker.py's
// Worker.run, with Python's multiprocessing primitives (Event, Value,
// Queue) replaced by internal/ipc's ZeroMQ-backed equivalents.
package worker

import (
	"context"
	"time"

	"github.com/luxfi/log"

	"github.com/gonka-ai/gonka/internal/compute"
	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/ipc"
	"github.com/gonka-ai/gonka/internal/nonceiter"
	"github.com/gonka-ai/gonka/internal/phase"
	"github.com/gonka-ai/gonka/internal/proofbatch"
	"github.com/gonka-ai/gonka/internal/wrappers"
)

// idlePoll is how long a worker sleeps between phase checks while IDLE,
// matching the source's time.sleep(0.01).
const idlePoll = 10 * time.Millisecond

// putTimeout bounds how long a worker blocks pushing into a queue. A put
// that times out is logged and its batch dropped; the worker keeps no
// interrupt flag and does not leave the current phase.
const putTimeout = 10 * time.Second

// Worker drives one device's share of a session: it owns a Compute,
// pulls nonces from its own slice of the global enumeration, and
// forwards results across the process boundary via ipc.
type Worker struct {
	id      int
	compute *compute.Compute
	nonces  *nonceiter.Iterator
	batch   int

	generated  *ipc.Sink[*proofbatch.Batch]
	validated  *ipc.Sink[*proofbatch.Batch]
	toValidate *ipc.Source[*proofbatch.Batch]
	ready      *ipc.ReadySink
	phaseSub   *ipc.PhaseSubscriber

	log log.Logger
}

// Config bundles everything a Worker needs to build its Compute and
// attach to the controller's queues.
type Config struct {
	DeviceID int
	NNodes   int
	NodeID   int
	NDevices int

	Session config.Session
	Log     log.Logger
}

// New builds the Worker's Model (deterministically, from Session's block
// hash) and connects every ipc endpoint. It does not signal readiness or
// start the dispatch loop; call Run for that.
func New(cfg Config, endpoints ipc.Endpoints) (*Worker, error) {
	c, err := compute.New(cfg.Session.Params, cfg.Session.BlockHash, cfg.Session.BlockHeight, cfg.Session.PublicKey, cfg.Session.RTarget)
	if err != nil {
		return nil, err
	}

	generated, err := ipc.NewPushConnect[*proofbatch.Batch](endpoints.Generated)
	if err != nil {
		return nil, err
	}
	validated, err := ipc.NewPushConnect[*proofbatch.Batch](endpoints.Validated)
	if err != nil {
		return nil, err
	}
	toValidate, err := ipc.NewPullConnect[*proofbatch.Batch](endpoints.ToValidate)
	if err != nil {
		return nil, err
	}
	ready, err := ipc.NewReadySink(endpoints.Ready)
	if err != nil {
		return nil, err
	}
	phaseSub, err := ipc.NewPhaseSubscriber(endpoints.PhasePub, phase.IDLE)
	if err != nil {
		return nil, err
	}

	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}

	return &Worker{
		id:         cfg.DeviceID,
		compute:    c,
		nonces:     nonceiter.New(cfg.NodeID, cfg.NNodes, cfg.DeviceID, cfg.NDevices),
		batch:      cfg.Session.BatchSize,
		generated:  generated,
		validated:  validated,
		toValidate: toValidate,
		ready:      ready,
		phaseSub:   phaseSub,
		log:        l,
	}, nil
}

// Run signals readiness, then loops polling the shared Phase until it
// observes phase.STOP or ctx is cancelled. It is intended to be the
// entire body of a pow-worker process's main function.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ready.Signal(w.id); err != nil {
		return err
	}
	w.log.Info("worker initialized and model built")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch current := w.phaseSub.Current(); current {
		case phase.STOP:
			w.log.Info("stopping worker")
			return nil
		case phase.GENERATE:
			w.generateUntilPhaseChange(ctx, phase.GENERATE)
		case phase.VALIDATE:
			w.validateUntilPhaseChange(ctx, phase.VALIDATE)
		default:
			time.Sleep(idlePoll)
		}
	}
}

// generateUntilPhaseChange runs the GENERATE phase: it keeps at most one
// earlier Compute.Generate call pending while the next one runs -- the
// next batch's nonces start computing while the previous batch's result
// is awaited, filtered and put on the wire -- and stops as soon as the
// shared Phase moves away from GENERATE. Results are collected on this
// goroutine alone, so it is the only caller of w.generated.Put, since a
// *zmq.Socket cannot be written from more than one goroutine at a time.
func (w *Worker) generateUntilPhaseChange(ctx context.Context, entryPhase phase.Phase) {
	w.log.Info("starting generate phase")

	var pending *compute.Future[*proofbatch.Batch]
	for w.phaseSub.Current() == entryPhase {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nonces := w.nonces.NextN(w.batch)
		future := w.compute.Generate(nonces)

		w.submitGenerated(pending)
		pending = future
	}
	w.submitGenerated(pending)
}

// submitGenerated blocks for future's result, filters it by r_target, and
// puts the remainder on the generated queue. Called only from
// generateUntilPhaseChange's single goroutine.
func (w *Worker) submitGenerated(future *compute.Future[*proofbatch.Batch]) {
	if future == nil {
		return
	}
	batch, err := future.Result()
	if err != nil {
		w.log.Error("generate batch failed", "err", err)
		return
	}
	filtered := batch.SubBatch(w.compute.RTarget)
	if filtered.Len() == 0 {
		return
	}
	if err := w.generated.Put(filtered, putTimeout); err != nil {
		w.log.Error("failed to submit generated batch", "err", err)
	}
}

// validateUntilPhaseChange drains to_validate, merges same-submitter
// batches, re-chunks them to the session's batch size, and recomputes
// every nonce's distance via Compute.Validate.
func (w *Worker) validateUntilPhaseChange(ctx context.Context, entryPhase phase.Phase) {
	w.log.Info("starting validate phase")

	for w.phaseSub.Current() == entryPhase {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batches, err := w.toValidate.DrainAll()
		if err != nil {
			w.log.Error("drain to_validate failed", "err", err)
			continue
		}
		if len(batches) == 0 {
			time.Sleep(idlePoll)
			continue
		}

		for _, group := range proofbatch.GroupByPublicKey(batches) {
			merged, err := proofbatch.Merge(group)
			if err != nil {
				w.log.Error("merge to_validate group failed", "err", err)
				continue
			}
			for _, chunk := range merged.Split(w.batch) {
				validated, err := w.compute.Validate(chunk)
				if err != nil {
					w.log.Error("validate batch failed", "err", err)
					continue
				}
				if err := w.validated.Put(validated, putTimeout); err != nil {
					w.log.Error("failed to submit validated batch", "err", err)
				}
			}
		}
	}

	w.log.Info("validate phase stopped")
}

// Close releases every ipc endpoint this worker opened.
func (w *Worker) Close() error {
	var errs wrappers.Errs
	for _, c := range []interface{ Close() error }{w.generated, w.validated, w.toValidate, w.ready, w.phaseSub} {
		errs.Add(c.Close())
	}
	return errs.Err()
}

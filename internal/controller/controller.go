// Package controller implements ParallelController, the control-plane
// half of the process-per-device topology: one cmd/pow-worker child per
// device, ZeroMQ endpoints bound for the three queues plus phase
// broadcast and ready signal, and the start/stop/generate/validate state
// machine spec.md §4.4 describes. Translated from
// src/pow/compute/controller.py's Controller/ParallelController.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/ipc"
	"github.com/gonka-ai/gonka/internal/metrics"
	"github.com/gonka-ai/gonka/internal/phase"
	"github.com/gonka-ai/gonka/internal/proofbatch"
	"github.com/gonka-ai/gonka/internal/set"
	"github.com/gonka-ai/gonka/internal/wrappers"
)

// ErrAlreadyRunning is returned by Start if any child process is alive.
var ErrAlreadyRunning = errors.New("controller: already running")

// stopSoftTimeout/stopHardTimeout mirror the source's join(timeout=10)
// then terminate() then join(timeout=30) then kill() escalation.
const (
	stopSoftTimeout = 10 * time.Second
	stopHardTimeout = 30 * time.Second
)

// WorkerBinary is the path to the cmd/pow-worker executable; overridable
// for tests.
var WorkerBinary = "pow-worker"

// device supervises one child process. alive is set true once the
// process starts and flipped by the Wait goroutine the instant it exits,
// so IsRunning can poll liveness without racing Stop's blocking read of
// exit.
type device struct {
	id    int
	cmd   *exec.Cmd
	exit  chan error // buffered; the process.Wait goroutine sends its result once
	alive atomic.Bool
}

// ParallelController owns a session's worker fleet: it binds every
// ZeroMQ endpoint, spawns one child per device, and exposes the phase
// transitions and queue drains the Manager and Sender depend on.
type ParallelController struct {
	session   config.Session
	endpoints ipc.Endpoints
	nodeID    int
	nNodes    int

	broadcaster *ipc.PhaseBroadcaster
	readySrc    *ipc.ReadySource
	generated   *ipc.Source[*proofbatch.Batch]
	validated   *ipc.Source[*proofbatch.Batch]
	toValidate  *ipc.Sink[*proofbatch.Batch]

	mu       sync.Mutex
	devices  []*device
	running  bool
	phaseVal phase.Phase
	ready    set.Set[int]

	metrics *metrics.Metrics
	log     log.Logger
}

// New binds every ZeroMQ endpoint for sessionID but does not spawn any
// worker process yet; call Start for that. m may be nil.
func New(sessionID string, session config.Session, nodeID, nNodes, nDevices int, m *metrics.Metrics, logger log.Logger) (*ParallelController, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	endpoints := ipc.DefaultEndpoints(sessionID)

	broadcaster, err := ipc.NewPhaseBroadcaster(endpoints.PhasePub)
	if err != nil {
		return nil, fmt.Errorf("bind phase broadcaster: %w", err)
	}
	readySrc, err := ipc.NewReadySource(endpoints.Ready)
	if err != nil {
		return nil, fmt.Errorf("bind ready source: %w", err)
	}
	generated, err := ipc.NewPullBind[*proofbatch.Batch](endpoints.Generated)
	if err != nil {
		return nil, fmt.Errorf("bind generated queue: %w", err)
	}
	validated, err := ipc.NewPullBind[*proofbatch.Batch](endpoints.Validated)
	if err != nil {
		return nil, fmt.Errorf("bind validated queue: %w", err)
	}
	toValidate, err := ipc.NewPushBind[*proofbatch.Batch](endpoints.ToValidate)
	if err != nil {
		return nil, fmt.Errorf("bind to_validate queue: %w", err)
	}

	devices := make([]*device, nDevices)
	for i := range devices {
		devices[i] = &device{id: i}
	}

	return &ParallelController{
		session:     session,
		endpoints:   endpoints,
		nodeID:      nodeID,
		nNodes:      nNodes,
		broadcaster: broadcaster,
		readySrc:    readySrc,
		generated:   generated,
		validated:   validated,
		toValidate:  toValidate,
		devices:     devices,
		ready:       set.NewSet[int](nDevices),
		metrics:     m,
		log:         logger,
	}, nil
}

// Start spawns a cmd/pow-worker child for every device and waits briefly
// for the spawn to take (matching the source's time.sleep(1) after
// process.start()).
func (c *ParallelController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	sessionJSON, err := sessionToJSON(c.session)
	if err != nil {
		return err
	}

	for _, d := range c.devices {
		cmd := exec.CommandContext(ctx, WorkerBinary, "run",
			"--device-id", fmt.Sprint(d.id),
			"--n-devices", fmt.Sprint(len(c.devices)),
			"--node-id", fmt.Sprint(c.nodeID),
			"--n-nodes", fmt.Sprint(c.nNodes),
			"--session", sessionJSON,
			"--generated", c.endpoints.Generated,
			"--validated", c.endpoints.Validated,
			"--to-validate", c.endpoints.ToValidate,
			"--phase", c.endpoints.PhasePub,
			"--ready", c.endpoints.Ready,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start worker %d: %w", d.id, err)
		}
		d.cmd = cmd
		d.exit = make(chan error, 1)
		d.alive.Store(true)

		go func(d *device) {
			err := d.cmd.Wait()
			d.alive.Store(false)
			d.exit <- err
		}(d)
	}

	time.Sleep(time.Second)
	c.running = true
	c.phaseVal = phase.IDLE
	return nil
}

// Stop transitions to STOP and waits for every child to exit, escalating
// from a graceful Wait to Process.Kill per the source's stop().
func (c *ParallelController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	c.setPhaseLocked(phase.STOP)

	for _, d := range c.devices {
		if d.cmd == nil {
			continue
		}
		select {
		case <-d.exit:
		case <-time.After(stopSoftTimeout):
			c.log.Error("worker did not stop in time, terminating", "device", d.id)
			_ = d.cmd.Process.Signal(os.Interrupt)
			select {
			case <-d.exit:
			case <-time.After(stopHardTimeout):
				c.log.Error("worker still alive after terminate, killing", "device", d.id)
				_ = d.cmd.Process.Kill()
				<-d.exit
			}
		}
	}

	c.running = false
}

// Terminate kills every worker process immediately, bypassing the
// graceful escalation in Stop.
func (c *ParallelController) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.cmd != nil && d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
	}
	c.running = false
}

func (c *ParallelController) setPhaseLocked(p phase.Phase) {
	c.phaseVal = p
	if err := c.broadcaster.Set(p); err != nil {
		c.log.Error("failed to broadcast phase", "phase", p, "err", err)
	}
	if c.metrics != nil {
		c.metrics.Phase.Set(float64(p))
	}
	c.log.Info("phase changed", "phase", p.String())
}

// SetPhase broadcasts a new Phase to every worker.
func (c *ParallelController) SetPhase(p phase.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPhaseLocked(p)
}

// Phase returns the last Phase this controller broadcast.
func (c *ParallelController) Phase() phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseVal
}

// StartGenerate/StopGenerate/StartValidate/StopValidate mirror the
// source's matching methods one-to-one.
func (c *ParallelController) StartGenerate() { c.SetPhase(phase.GENERATE) }
func (c *ParallelController) StopGenerate()  { c.SetPhase(phase.IDLE) }
func (c *ParallelController) StartValidate() { c.SetPhase(phase.VALIDATE) }
func (c *ParallelController) StopValidate()  { c.SetPhase(phase.IDLE) }

// IsRunning reports whether the controller has been started and every
// worker process is still alive. A controller is considered degraded --
// and this returns false -- the moment any single device's process exits
// unexpectedly: liveness is polled from every device on each call
// rather than cached in a flag.
func (c *ParallelController) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	for _, d := range c.devices {
		if !d.alive.Load() {
			return false
		}
	}
	return true
}

// GetGenerated non-blockingly drains every generated batch queued so far.
func (c *ParallelController) GetGenerated() ([]*proofbatch.Batch, error) {
	return c.generated.DrainAll()
}

// GetValidated non-blockingly drains every validated batch queued so far.
func (c *ParallelController) GetValidated() ([]*proofbatch.Batch, error) {
	return c.validated.DrainAll()
}

// ToValidate enqueues a peer-submitted batch for the VALIDATE phase.
func (c *ParallelController) ToValidate(batch *proofbatch.Batch) error {
	return c.toValidate.Put(batch, stopSoftTimeout)
}

// PollReady drains the ready endpoint and records which devices have
// reported model_init_event so far.
func (c *ParallelController) PollReady() error {
	ids, err := c.readySrc.Drain()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ready.Add(ids...)
	n := c.ready.Len()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.WorkersReady.Set(float64(n))
	}
	return nil
}

// IsModelInitialized reports whether every device has signalled ready.
func (c *ParallelController) IsModelInitialized() bool {
	_ = c.PollReady()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Len() == len(c.devices)
}

func sessionToJSON(s config.Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return string(data), nil
}

// Close releases every bound ZeroMQ socket. Stop should be called first.
func (c *ParallelController) Close() error {
	var errs wrappers.Errs
	for _, closer := range []interface{ Close() error }{c.broadcaster, c.readySrc, c.generated, c.validated, c.toValidate} {
		errs.Add(closer.Close())
	}
	return errs.Err()
}

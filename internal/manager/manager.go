// Package manager implements the single-writer Manager that owns
// tenancy arbitration and the ParallelController/Sender lifecycle for
// the PoW tenant, translated from src/pow/app/server.py's GpuManager.
// The Manager is the only component permitted to construct or tear down
// a ParallelController (spec.md §4.7 "The Manager is the only place
// that may change tenancy").
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/controller"
	"github.com/gonka-ai/gonka/internal/health"
	"github.com/gonka-ai/gonka/internal/metrics"
	"github.com/gonka-ai/gonka/internal/phase"
	"github.com/gonka-ai/gonka/internal/proofbatch"
	"github.com/gonka-ai/gonka/internal/sender"
	"github.com/gonka-ai/gonka/internal/tenant"
)

// ErrResourceConflict is returned whenever a mutating request is refused
// because the requested tenant can't have the device right now (spec.md
// §5's single-GPU exclusivity, and §7's ResourceConflict taxonomy entry).
var ErrResourceConflict = errors.New("manager: resource conflict")

// ErrControllerNotInitialized is returned by any PoW operation that
// requires a running controller when none exists.
var ErrControllerNotInitialized = errors.New("manager: pow controller not initialized")

// Status mirrors the source's PowState enum.
type Status string

const (
	StatusNoController Status = "NO_CONTROLLER"
	StatusLoading      Status = "LOADING"
	StatusIdle         Status = "IDLE"
	StatusGenerating   Status = "GENERATING"
	StatusValidating   Status = "VALIDATING"
	StatusStopped      Status = "STOPPED"
)

// StatusReport is the body of GET /pow/status.
type StatusReport struct {
	Status             Status `json:"status"`
	IsModelInitialized bool   `json:"is_model_initialized,omitempty"`
	Details            string `json:"details,omitempty"`
}

// Manager arbitrates between the PoW tenant and whatever other tenants
// are registered (vLLM inference, training -- out of scope, represented
// here by tenant.Noop stand-ins), and owns the PoW controller/sender
// pair's full lifecycle.
type Manager struct {
	mu sync.Mutex

	nodeID, nNodes, nDevices int
	registerer               prometheus.Registerer
	metrics                  *metrics.Metrics
	log                      log.Logger

	controller *controller.ParallelController
	sender     *sender.Sender
	initReq    *config.PowInitRequest

	otherTenants []tenant.Tenant
}

// New builds a Manager. otherTenants are the non-PoW tenants the Manager
// must check before granting PoW the device (e.g. a vLLM inference
// runner); pass none if the node only ever runs PoW.
func New(nodeID, nNodes, nDevices int, registerer prometheus.Registerer, logger log.Logger, otherTenants ...tenant.Tenant) (*Manager, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	m, err := metrics.New(registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return &Manager{
		nodeID: nodeID, nNodes: nNodes, nDevices: nDevices,
		registerer:   registerer,
		metrics:      m,
		log:          logger,
		otherTenants: otherTenants,
	}, nil
}

func (m *Manager) anyOtherTenantRunning() bool {
	for _, t := range m.otherTenants {
		if t.Running() {
			return true
		}
	}
	return false
}

// Init constructs a session's controller and sender. It is not
// idempotent: if a controller already exists, it is reported as a
// conflict, matching _initiate's refusal to double-initialize.
func (m *Manager) Init(ctx context.Context, req config.PowInitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controller != nil {
		return fmt.Errorf("%w: controller already initialized", ErrResourceConflict)
	}
	if m.anyOtherTenantRunning() {
		return fmt.Errorf("%w: another tenant is running", ErrResourceConflict)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	sessionID := fmt.Sprintf("%s-%d", req.BlockHash, req.BlockHeight)
	c, err := controller.New(sessionID, req.Session(), m.nodeID, m.nNodes, m.nDevices, m.metrics, m.log)
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return fmt.Errorf("start controller: %w", err)
	}

	s := sender.New(req.URL, c, req.RTarget, req.FraudThreshold, m.metrics, m.log)
	s.Start()

	m.controller = c
	m.sender = s
	m.initReq = &req
	m.log.Info("pow session initialized", "block_hash", req.BlockHash, "block_height", req.BlockHeight)
	return nil
}

// InitAndStartGenerate is the idempotent POST /pow/init/generate path:
// initialize if needed, then set phase=GENERATE.
func (m *Manager) InitAndStartGenerate(ctx context.Context, req config.PowInitRequest) error {
	if err := m.initIfAbsent(ctx, req); err != nil {
		return err
	}
	return m.PhaseGenerate()
}

// InitAndStartValidate is the idempotent POST /pow/init/validate path.
func (m *Manager) InitAndStartValidate(ctx context.Context, req config.PowInitRequest) error {
	if err := m.initIfAbsent(ctx, req); err != nil {
		return err
	}
	return m.PhaseValidate()
}

func (m *Manager) initIfAbsent(ctx context.Context, req config.PowInitRequest) error {
	m.mu.Lock()
	exists := m.controller != nil
	m.mu.Unlock()
	if exists {
		return nil
	}
	return m.Init(ctx, req)
}

// SwitchToPow tears down any running PoW session and other tenants, then
// initializes and starts a fresh one, mirroring GpuManager.switch_to_pow.
func (m *Manager) SwitchToPow(ctx context.Context, req config.PowInitRequest) error {
	m.mu.Lock()
	if m.controller != nil {
		m.mu.Unlock()
		m.Stop()
		m.mu.Lock()
	}
	for _, t := range m.otherTenants {
		if t.Running() {
			_ = t.Stop()
		}
	}
	m.mu.Unlock()
	return m.Init(ctx, req)
}

// PhaseGenerate requires a running controller and sets phase=GENERATE.
func (m *Manager) PhaseGenerate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == nil {
		return ErrControllerNotInitialized
	}
	m.controller.StartGenerate()
	return nil
}

// PhaseValidate requires a running controller and sets phase=VALIDATE.
func (m *Manager) PhaseValidate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == nil {
		return ErrControllerNotInitialized
	}
	m.controller.StartValidate()
	return nil
}

// Validate forwards a peer-submitted batch to the controller's
// to_validate queue and registers it with the sender's in-validation
// registry, matching the source's _validate.
func (m *Manager) Validate(batch *proofbatch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == nil || m.sender == nil {
		return ErrControllerNotInitialized
	}
	if err := m.controller.ToValidate(batch); err != nil {
		return err
	}
	m.sender.AddInValidation(batch)
	return nil
}

// Status reports the current PoW tenancy state.
func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == nil {
		return StatusReport{Status: StatusNoController}
	}

	loading := !m.controller.IsModelInitialized()
	report := StatusReport{IsModelInitialized: !loading}
	switch p := m.controller.Phase(); {
	case loading:
		report.Status = StatusLoading
		report.Details = "model is still loading"
	case p == phase.GENERATE:
		report.Status = StatusGenerating
	case p == phase.VALIDATE:
		report.Status = StatusValidating
	default:
		report.Status = StatusIdle
	}
	return report
}

// Health reports whether a controller is either absent (nothing to be
// unhealthy about) or present and running, satisfying health.Checkable
// for the /api/v1/healthz endpoint.
func (m *Manager) Health(ctx context.Context) (health.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controller == nil {
		return health.Check{Healthy: true}, nil
	}
	if !m.controller.IsRunning() {
		return health.Check{Healthy: false, Error: "pow controller initialized but not running"}, nil
	}
	return health.Check{Healthy: true}, nil
}

// Stop tears down the running controller and sender, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	c, s := m.controller, m.sender
	m.controller, m.sender, m.initReq = nil, nil, nil
	m.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if c != nil {
		c.Stop()
		if err := c.Close(); err != nil {
			m.log.Error("closing controller endpoints failed", "err", err)
		}
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/luxfi/log"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/health"
	"github.com/gonka-ai/gonka/internal/ipc"
	"github.com/gonka-ai/gonka/internal/manager"
	"github.com/gonka-ai/gonka/internal/proofbatch"
)

// Server owns the gorilla/mux router wiring Manager operations to the
// /api/v1 surface, plus /api/v1/healthz. /metrics is not served here.
type Server struct {
	router  *mux.Router
	manager *manager.Manager
	checker *health.Checker
	log     log.Logger
}

// New builds a Server; checker may be nil if no health reporting is wanted.
func New(m *manager.Manager, checker *health.Checker, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	s := &Server{router: mux.NewRouter(), manager: m, checker: checker, log: logger}
	s.routes()
	return s
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/pow/init", s.handleInit).Methods(http.MethodPost)
	api.HandleFunc("/pow/init/generate", s.handleInitGenerate).Methods(http.MethodPost)
	api.HandleFunc("/pow/init/validate", s.handleInitValidate).Methods(http.MethodPost)
	api.HandleFunc("/pow/phase/generate", s.handlePhaseGenerate).Methods(http.MethodPost)
	api.HandleFunc("/pow/phase/validate", s.handlePhaseValidate).Methods(http.MethodPost)
	api.HandleFunc("/pow/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/pow/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/pow/stop", s.handleStop).Methods(http.MethodPost)

	if s.checker != nil {
		api.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	}
}

func (s *Server) decodeInitRequest(w http.ResponseWriter, r *http.Request) (config.PowInitRequest, bool) {
	var req config.PowInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, false
	}
	return req, true
}

// statusFor maps a Manager error to the HTTP status spec.md §6/§7
// assigns it: ResourceConflict and ControllerNotInitialized are both
// precondition conflicts (400); anything else is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrResourceConflict):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrControllerNotInitialized):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInitRequest(w, r)
	if !ok {
		return
	}
	if err := s.manager.Init(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleInitGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInitRequest(w, r)
	if !ok {
		return
	}
	if err := s.manager.InitAndStartGenerate(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleInitValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInitRequest(w, r)
	if !ok {
		return
	}
	if err := s.manager.InitAndStartValidate(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handlePhaseGenerate(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.PhaseGenerate(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handlePhaseValidate(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.PhaseValidate(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var batch proofbatch.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Validate(&batch); err != nil {
		status := statusFor(err)
		if errors.Is(err, manager.ErrControllerNotInitialized) || errors.Is(err, ipc.ErrPutTimeout) {
			// A missing controller and a to_validate put that times out
			// (QueueBackpressure) both map to "not ready yet". A controller
			// whose workers are still loading is not distinguished: the
			// batch is queued.
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleStatus always returns 200: spec.md §6 scopes 503 to actions that
// require a ready model, and a status read is never such an action --
// the source's get_status returns the report unconditionally regardless
// of phase.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.manager.Stop()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

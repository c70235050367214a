package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/health"
	"github.com/gonka-ai/gonka/internal/manager"
	"github.com/gonka-ai/gonka/internal/proofbatch"
)

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	m, err := manager.New(0, 1, 0, prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	checker := health.NewChecker()
	checker.Register("manager", m)
	return New(m, checker, nil), m
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func testInitRequest() config.PowInitRequest {
	return config.PowInitRequest{
		URL: "http://sink.invalid", BlockHash: "0xblock", BlockHeight: 1, PublicKey: "0xpk",
		BatchSize: 4, RTarget: 50, FraudThreshold: 0.01,
		Params: config.Params{
			Dim: 16, VocabSize: 32, NumLayers: 1, NumHeads: 4, NumKVHeads: 2,
			FFNMultiplier: 2.0, MultipleOf: 8, NormEps: 1e-5, RopeTheta: 10000, SeqLen: 4,
		},
	}
}

func TestStatusBeforeInitReturns200NoController(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/pow/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report manager.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, manager.StatusNoController, report.Status)
}

func TestPhaseGenerateWithoutControllerReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/pow/phase/generate", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitThenStatusReportsIdle(t *testing.T) {
	s, m := newTestServer(t)
	defer m.Stop()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pow/init", testInitRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/pow/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report manager.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, manager.StatusIdle, report.Status)
}

func TestDoubleInitReturns400Conflict(t *testing.T) {
	s, m := newTestServer(t)
	defer m.Stop()

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/v1/pow/init", testInitRequest()).Code)
	require.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/v1/pow/init", testInitRequest()).Code)
}

func TestInitGenerateThenPhaseGenerateIsIdempotent(t *testing.T) {
	s, m := newTestServer(t)
	defer m.Stop()

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/v1/pow/init/generate", testInitRequest()).Code)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/v1/pow/phase/generate", nil).Code)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/pow/status", nil)
	var report manager.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, manager.StatusGenerating, report.Status)
}

func TestValidateWithoutControllerReturns503(t *testing.T) {
	s, _ := newTestServer(t)
	tag := proofbatch.Tag{PublicKey: "0xpk", BlockHash: "0xblock", BlockHeight: 1}
	batch := proofbatch.Batch{Tag: tag, Nonces: []uint64{1}, Dist: []float32{0.1}}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pow/validate", batch)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzReportsHealthyWithNoController(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.Healthy)
}

func TestStopTearsDownController(t *testing.T) {
	s, m := newTestServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/v1/pow/init", testInitRequest()).Code)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pow/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, manager.StatusNoController, m.Status().Status)
}

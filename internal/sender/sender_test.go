package sender

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gonka-ai/gonka/internal/proofbatch"
)

// fakeSource lets tests hand the Sender pre-built batches without
// spinning up a real ParallelController.
type fakeSource struct {
	mu        sync.Mutex
	generated []*proofbatch.Batch
	validated []*proofbatch.Batch
}

func (f *fakeSource) GetGenerated() ([]*proofbatch.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.generated
	f.generated = nil
	return out, nil
}

func (f *fakeSource) GetValidated() ([]*proofbatch.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.validated
	f.validated = nil
	return out, nil
}

func (f *fakeSource) pushGenerated(b *proofbatch.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, b)
}

func (f *fakeSource) pushValidated(b *proofbatch.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, b)
}

func TestSenderPostsMergedGeneratedBatches(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody proofbatch.Batch

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &fakeSource{}
	s := New(server.URL, source, 1.0, 0.01, nil, nil)

	tag := proofbatch.Tag{PublicKey: "0xpk", BlockHash: "0xblock", BlockHeight: 1}
	b1, err := proofbatch.New(tag, []uint64{1, 2}, []float32{0.1, 0.2})
	require.NoError(t, err)
	b2, err := proofbatch.New(tag, []uint64{3}, []float32{0.3})
	require.NoError(t, err)
	source.pushGenerated(b1)
	source.pushGenerated(b2)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotPath == "/generated" && len(gotBody.Nonces) == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSenderTracksInValidationUntilReady(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody proofbatch.ValidatedBatch

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &fakeSource{}
	s := New(server.URL, source, 1.0, 0.5, nil, nil)

	tag := proofbatch.Tag{PublicKey: "0xpk", BlockHash: "0xblock", BlockHeight: 1}
	submitted, err := proofbatch.New(tag, []uint64{1, 2}, []float32{0.1, 0.2})
	require.NoError(t, err)
	s.AddInValidation(submitted)

	recomputed, err := proofbatch.New(tag, []uint64{1, 2}, []float32{0.15, 0.25})
	require.NoError(t, err)
	source.pushValidated(recomputed)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotPath == "/validated" && len(gotBody.Nonces) == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, 0, s.registry.len())
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := newBackoff()
	require.Equal(t, time.Duration(0), b.delay["/x"])

	b.Failure("/x")
	require.Equal(t, initialBackoff, b.delay["/x"])

	b.Failure("/x")
	require.Equal(t, 2*initialBackoff, b.delay["/x"])

	b.Success("/x")
	require.Equal(t, time.Duration(0), b.delay["/x"])
}

func TestLRUEvictsOldestBeyondCapacity(t *testing.T) {
	l := newLRU(2)
	tag := proofbatch.Tag{PublicKey: "a", BlockHash: "b"}
	batch, err := proofbatch.New(tag, []uint64{1}, []float32{0.1})
	require.NoError(t, err)

	l.put(key{PublicKey: "a"}, proofbatch.NewInValidation(batch))
	l.put(key{PublicKey: "b"}, proofbatch.NewInValidation(batch))
	l.put(key{PublicKey: "c"}, proofbatch.NewInValidation(batch))

	_, ok := l.get(key{PublicKey: "a"})
	require.False(t, ok, "oldest entry should have been evicted")
	require.Equal(t, 2, l.len())
}

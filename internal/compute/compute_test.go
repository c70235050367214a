package compute

import (
	"math"
	"testing"

	"github.com/gonka-ai/gonka/internal/config"
)

func testParams() config.Params {
	return config.Params{
		Dim:           16,
		NumLayers:     1,
		NumHeads:      4,
		NumKVHeads:    2,
		VocabSize:     32,
		FFNMultiplier: 2.0,
		MultipleOf:    8,
		NormEps:       1e-5,
		RopeTheta:     10000,
		SeqLen:        4,
	}
}

// TestGenerateThenValidateRoundTrip is the literal scenario from
// spec.md §8.2.
func TestGenerateThenValidateRoundTrip(t *testing.T) {
	params := config.Params{
		Dim: 128, VocabSize: 128,
		NumLayers: 2, NumHeads: 4, NumKVHeads: 2,
		FFNMultiplier: 2.0, MultipleOf: 8,
		NormEps: 1e-5, RopeTheta: 10000, SeqLen: 4,
	}
	c, err := New(params, "0x00", 0, "0x00", 1.39635417620795)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	nonces := make([]uint64, 100)
	for i := range nonces {
		nonces[i] = uint64(i)
	}

	future := c.Generate(nonces)
	batch, err := future.Result()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if batch.Len() != len(nonces) {
		t.Fatalf("generated batch length = %d, want %d", batch.Len(), len(nonces))
	}

	validated, err := c.Validate(batch)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i := range batch.Nonces {
		if math.Abs(float64(validated.Dist[i]-batch.Dist[i])) >= 1e-3 {
			t.Fatalf("nonce %d: |received - computed| = %v, want < 1e-3", batch.Nonces[i], math.Abs(float64(validated.Dist[i]-batch.Dist[i])))
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	params := testParams()
	c1, err := New(params, "0xblock", 1, "0xpk", 1.0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c2, err := New(params, "0xblock", 1, "0xpk", 1.0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	nonces := []uint64{1, 2, 3, 4, 5}
	b1, err := c1.Generate(nonces).Result()
	if err != nil {
		t.Fatalf("Generate c1: %v", err)
	}
	b2, err := c2.Generate(nonces).Result()
	if err != nil {
		t.Fatalf("Generate c2: %v", err)
	}
	for i := range nonces {
		if b1.Dist[i] != b2.Dist[i] {
			t.Fatalf("nonce %d: distances differ across identical Computes: %v vs %v", nonces[i], b1.Dist[i], b2.Dist[i])
		}
	}
}

func TestFutureAddDoneCallbackAfterResolve(t *testing.T) {
	f := NewFuture[int]()
	f.Resolve(42, nil)

	called := false
	f.AddDoneCallback(func(v int, err error) {
		called = true
		if v != 42 || err != nil {
			t.Fatalf("callback got (%d, %v), want (42, nil)", v, err)
		}
	})
	if !called {
		t.Fatalf("callback registered after resolve must run synchronously")
	}
}

func TestFutureAddDoneCallbackBeforeResolve(t *testing.T) {
	f := NewFuture[int]()
	result := make(chan int, 1)
	f.AddDoneCallback(func(v int, err error) {
		result <- v
	})
	f.Resolve(7, nil)
	if got := <-result; got != 7 {
		t.Fatalf("callback got %d, want 7", got)
	}
}

package model

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/gonka-ai/gonka/internal/config"
)

func testParams() config.Params {
	return config.Params{
		Dim:           16,
		NumLayers:     2,
		NumHeads:      4,
		NumKVHeads:    2,
		VocabSize:     32,
		FFNMultiplier: 2.0,
		MultipleOf:    8,
		NormEps:       1e-5,
		RopeTheta:     10000,
		UseScaledRope: false,
		SeqLen:        4,
	}
}

func randomInput(params config.Params, seed float64) *mat.Dense {
	data := make([]float64, params.SeqLen*params.Dim)
	for i := range data {
		data[i] = seed + float64(i)*0.001
	}
	return mat.NewDense(params.SeqLen, params.Dim, data)
}

func TestSameBlockHashYieldsIdenticalWeights(t *testing.T) {
	params := testParams()
	m1, err := New(params, "0x00")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m2, err := New(params, "0x00")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	input := randomInput(params, 0.1)
	out1, err := m1.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	out2, err := m2.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if !mat.Equal(out1, out2) {
		t.Fatalf("two models built from the same block hash produced different outputs")
	}
}

func TestDifferentBlockHashYieldsDifferentWeights(t *testing.T) {
	params := testParams()
	m1, err := New(params, "0x00")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m2, err := New(params, "0x01")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	input := randomInput(params, 0.1)
	out1, _ := m1.Forward(input)
	out2, _ := m2.Forward(input)

	if mat.Equal(out1, out2) {
		t.Fatalf("different block hashes produced identical outputs (seed not wired in)")
	}
}

func TestForwardDeterministicAcrossRuns(t *testing.T) {
	params := testParams()
	m, err := New(params, "0xabc123")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	input := randomInput(params, 0.5)

	out1, err := m.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	out2, err := m.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !mat.Equal(out1, out2) {
		t.Fatalf("repeated Forward calls on the same model diverged")
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	params := testParams()
	params.NumHeads = 3 // Dim=16 not divisible by 3
	if _, err := New(params, "0x00"); err == nil {
		t.Fatalf("expected WeightInitError for invalid params")
	}
}

func TestNewRejectsOversizedWeights(t *testing.T) {
	params := testParams()
	params.Dim = 4096
	params.NumHeads = 32
	params.NumKVHeads = 8
	params.NumLayers = 64
	params.VocabSize = 128000
	if _, err := New(params, "0x00", WithMaxWeightBytes(1<<20)); err == nil {
		t.Fatalf("expected WeightInitError for oversized weight set")
	}
}

// Package model implements the fixed-architecture, deterministically
// seeded transformer used as the PoW function (spec.md §4.1). Model
// construction is pure given (Params, block hash): every node sharing a
// block hash obtains bit-identical weights, which is a network
// correctness invariant, not a performance choice.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/gonka-ai/gonka/internal/config"
)

// ErrWeightInit is returned when the declared Params cannot be realized:
// either the shapes are invalid or the weight set would exceed the
// configured memory ceiling (the CPU stand-in for CUDA OOM).
var ErrWeightInit = errors.New("model: weight initialization failed")

// WeightInitError wraps ErrWeightInit with the reason construction failed.
type WeightInitError struct {
	Reason string
}

func (e *WeightInitError) Error() string {
	return fmt.Sprintf("model: weight initialization failed: %s", e.Reason)
}

func (e *WeightInitError) Unwrap() error { return ErrWeightInit }

// DefaultMaxWeightBytes bounds how large a weight set New will
// allocate. It stands in for the GPU memory ceiling the source checks
// implicitly by attempting (and failing) a CUDA allocation.
const DefaultMaxWeightBytes = 8 << 30 // 8 GiB

// Model is the deterministic transformer forward pass used to score a
// (public_key, nonce) pair.
type Model struct {
	params config.Params
	w      *weights

	maxWeightBytes int64
}

// Option configures a Model at construction time.
type Option func(*Model)

// WithMaxWeightBytes overrides DefaultMaxWeightBytes.
func WithMaxWeightBytes(n int64) Option {
	return func(m *Model) { m.maxWeightBytes = n }
}

// New constructs a Model whose weights are derived from blockHash. It
// returns a *WeightInitError if params is invalid or the weight set would
// exceed the configured memory ceiling.
func New(params config.Params, blockHash string, opts ...Option) (*Model, error) {
	m := &Model{params: params, maxWeightBytes: DefaultMaxWeightBytes}
	for _, opt := range opts {
		opt(m)
	}

	if err := params.Validate(); err != nil {
		return nil, &WeightInitError{Reason: err.Error()}
	}
	if size := approxBytes(params); size > m.maxWeightBytes {
		return nil, &WeightInitError{
			Reason: fmt.Sprintf("weight set of %d bytes exceeds ceiling of %d bytes", size, m.maxWeightBytes),
		}
	}

	m.w = newWeights(params, blockHash)
	return m, nil
}

// Params returns the model's hyperparameters.
func (m *Model) Params() config.Params { return m.params }

// Forward runs the full transformer stack over a (SeqLen x Dim) input and
// returns the final hidden state after the output RMSNorm, shaped
// (SeqLen x Dim). It is a pure function of (weights, input): identical
// inputs on the same Params yield bit-identical outputs on the same
// device kind (spec.md §4.1 determinism floor).
func (m *Model) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if rows != m.params.SeqLen || cols != m.params.Dim {
		return nil, fmt.Errorf("model: input shape (%d,%d) does not match params (%d,%d)", rows, cols, m.params.SeqLen, m.params.Dim)
	}

	h := input
	for i := range m.w.layers {
		h = m.block(h, &m.w.layers[i])
	}
	return rmsNorm(h, m.w.outputNorm, m.params.NormEps), nil
}

// Logits runs Forward and projects the last sequence position to
// VocabSize logits, the pooling the source's single-token attention
// model collapses to implicitly.
func (m *Model) Logits(input *mat.Dense) (*mat.VecDense, error) {
	hidden, err := m.Forward(input)
	if err != nil {
		return nil, err
	}
	rows, _ := hidden.Dims()
	last := mat.Row(nil, rows-1, hidden)
	lastVec := mat.NewVecDense(len(last), last)

	out := mat.NewVecDense(m.params.VocabSize, nil)
	out.MulVec(m.w.outputProj.T(), lastVec)
	return out, nil
}

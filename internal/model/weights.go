package model

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext/prng"

	"github.com/gonka-ai/gonka/internal/config"
)

// layer holds one transformer block's weights.
type layer struct {
	attnNorm []float64 // Dim
	wq       *mat.Dense // Dim x Dim
	wk       *mat.Dense // Dim x (NumKVHeads*HeadDim)
	wv       *mat.Dense // Dim x (NumKVHeads*HeadDim)
	wo       *mat.Dense // Dim x Dim

	ffnNorm []float64 // Dim
	w1      *mat.Dense // Dim x FFNHidden (gate)
	w3      *mat.Dense // Dim x FFNHidden (up)
	w2      *mat.Dense // FFNHidden x Dim (down)
}

// weights holds every tensor a Model needs, all derived deterministically
// from a single seeded PRNG stream so that two independent constructions
// with the same Params and block hash produce bit-identical values
// (spec.md §4.1 determinism invariant).
type weights struct {
	layers     []layer
	outputNorm []float64
	outputProj *mat.Dense // Dim x VocabSize
}

// seedFromBlockHash derives a 64-bit MT19937 seed from the block hash the
// same way the source seeds its per-block PRNG from the chain hash: a
// narrowing hash of the hash, not the raw bytes.
func seedFromBlockHash(blockHash string) uint64 {
	sum := sha256.Sum256([]byte(blockHash))
	return binary.BigEndian.Uint64(sum[:8])
}

// newWeights allocates and fills every weight tensor for params, drawing
// from a single MT19937 stream (gonum.org/v1/gonum/mathext/prng, the same
// generator the pack uses for deterministic sampling elsewhere) seeded
// from blockHash.
func newWeights(params config.Params, blockHash string) *weights {
	mt := prng.NewMT19937()
	mt.Seed(seedFromBlockHash(blockHash))
	rng := rand.New(mt)

	next := func() float64 {
		// Box-Muller-free uniform-to-centered transform: cheap, deterministic,
		// and symmetric around zero so weight magnitudes don't drift with Dim.
		return rng.Float64()*2 - 1
	}
	fill := func(r, c int) *mat.Dense {
		data := make([]float64, r*c)
		for i := range data {
			data[i] = next() * 0.02
		}
		return mat.NewDense(r, c, data)
	}
	ones := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}

	headDim := params.HeadDim()
	kvDim := params.NumKVHeads * headDim
	ffnDim := params.FFNHiddenDim()

	layers := make([]layer, params.NumLayers)
	for i := range layers {
		layers[i] = layer{
			attnNorm: ones(params.Dim),
			wq:       fill(params.Dim, params.Dim),
			wk:       fill(params.Dim, kvDim),
			wv:       fill(params.Dim, kvDim),
			wo:       fill(params.Dim, params.Dim),
			ffnNorm:  ones(params.Dim),
			w1:       fill(params.Dim, ffnDim),
			w3:       fill(params.Dim, ffnDim),
			w2:       fill(ffnDim, params.Dim),
		}
	}

	return &weights{
		layers:     layers,
		outputNorm: ones(params.Dim),
		outputProj: fill(params.Dim, params.VocabSize),
	}
}

// approxBytes estimates the resident size of the weight set, used by
// New to reject Params that would exceed a configured memory
// ceiling before allocating anything (the CPU stand-in for the source's
// CUDA OOM check).
func approxBytes(params config.Params) int64 {
	headDim := params.HeadDim()
	kvDim := params.NumKVHeads * headDim
	ffnDim := params.FFNHiddenDim()

	perLayer := int64(params.Dim)*int64(params.Dim)*2 + // wq, wo
		int64(params.Dim)*int64(kvDim)*2 + // wk, wv
		int64(params.Dim)*int64(ffnDim)*3 // w1, w2, w3
	total := perLayer*int64(params.NumLayers) + int64(params.Dim)*int64(params.VocabSize)
	return total * 8 // float64
}

// Package compute wraps a Model with the (nonce, public_key) -> distance
// mapping Workers drive (spec.md §4.1): generate submits a batch of
// nonces asynchronously and returns the unfiltered result (the Worker
// filters it by r_target); validate recomputes distances for a
// peer-submitted batch without filtering.
package compute

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/gonka-ai/gonka/internal/config"
	"github.com/gonka-ai/gonka/internal/model"
	"github.com/gonka-ai/gonka/internal/proofbatch"
)

// ErrTransientCompute marks a single nonce or batch failing to compute
// without indicating a persistent fault (spec.md §7 TransientComputeError).
var ErrTransientCompute = errors.New("compute: transient failure computing forward pass")

// Compute binds a Model to a session's public key and r_target.
type Compute struct {
	Model     *model.Model
	Params    config.Params
	PublicKey string
	RTarget   float32
	Tag       proofbatch.Tag
}

// New constructs a Compute for a session, building the deterministic
// Model from Params and block hash.
func New(params config.Params, blockHash string, blockHeight uint64, publicKey string, rTarget float32) (*Compute, error) {
	m, err := model.New(params, blockHash)
	if err != nil {
		return nil, err
	}
	return &Compute{
		Model:     m,
		Params:    params,
		PublicKey: publicKey,
		RTarget:   rTarget,
		Tag: proofbatch.Tag{
			PublicKey:   publicKey,
			BlockHash:   blockHash,
			BlockHeight: blockHeight,
		},
	}, nil
}

// inputTensor derives a (SeqLen x Dim) input from hash(public_key) XOR
// nonce, matching the source's get_input_tensor: a PRNG is reseeded per
// nonce and used to fill the tensor, so the input -- like the weights --
// is a pure, replayable function of its arguments.
func inputTensor(params config.Params, publicKey string, nonce uint64) *mat.Dense {
	sum := sha256.Sum256([]byte(publicKey))
	pkSeed := binary.BigEndian.Uint64(sum[:8])
	seed := pkSeed ^ nonce

	rng := rand.New(rand.NewSource(int64(seed)))
	data := make([]float64, params.SeqLen*params.Dim)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(params.SeqLen, params.Dim, data)
}

// distanceFromLogits folds a logits vector to a scalar distance in
// [0, +inf). The logits are hashed with SHA-256 (matching the source's
// Compute.get_hash), and the first 8 digest bytes are treated as a
// uniform (0,1) fraction u; distance = -ln(u) so that distance is
// Exponential(1)-distributed and rare (small-hash) outputs are rare
// (small-distance) outputs, which is exactly the event r_target filters
// for. This mapping is the network-wide constant every implementation
// must agree on bit-for-bit (spec.md §9 "Distance metric semantics").
func distanceFromLogits(logits *mat.VecDense) (float32, []byte) {
	buf := make([]byte, 8*logits.Len())
	for i := 0; i < logits.Len(); i++ {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(logits.AtVec(i)))
	}
	digest := sha256.Sum256(buf)

	u := float64(binary.BigEndian.Uint64(digest[:8])+1) / (math.MaxUint64 + 2)
	dist := float32(-math.Log(u))
	return dist, digest[:]
}

// computeOne runs the forward pass for a single nonce and returns its
// distance and raw output hash.
func (c *Compute) computeOne(nonce uint64) (float32, []byte, error) {
	input := inputTensor(c.Params, c.PublicKey, nonce)
	logits, err := c.Model.Logits(input)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransientCompute, err)
	}
	dist, hash := distanceFromLogits(logits)
	return dist, hash, nil
}

// Generate enqueues the forward pass for every nonce in the batch and
// returns immediately with a Future that resolves to the *unfiltered*
// ProofBatch once every nonce has been computed. Per spec.md §4.1 this
// lets the worker submit the next batch of nonces before this one
// finishes -- the asynchronous "pipelining" requirement -- since the
// caller only blocks when it calls Future.Result or registers a callback.
func (c *Compute) Generate(nonces []uint64) *Future[*proofbatch.Batch] {
	future := NewFuture[*proofbatch.Batch]()
	go func() {
		dist := make([]float32, len(nonces))
		for i, n := range nonces {
			d, _, err := c.computeOne(n)
			if err != nil {
				future.Resolve(nil, err)
				return
			}
			dist[i] = d
		}
		batch, err := proofbatch.New(c.Tag, append([]uint64(nil), nonces...), dist)
		future.Resolve(batch, err)
	}()
	return future
}

// Validate recomputes the distance for every nonce in batch and returns a
// new batch carrying the recomputed distances, without any filtering.
// Used by a Worker in the VALIDATE phase; the recomputed distances are
// what the Sender later scores a submitter's claims against.
func (c *Compute) Validate(batch *proofbatch.Batch) (*proofbatch.Batch, error) {
	dist := make([]float32, len(batch.Nonces))
	for i, n := range batch.Nonces {
		d, _, err := c.computeOne(n)
		if err != nil {
			return nil, err
		}
		dist[i] = d
	}
	return proofbatch.New(batch.Tag, append([]uint64(nil), batch.Nonces...), dist)
}

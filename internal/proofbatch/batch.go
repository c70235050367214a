// Package proofbatch implements the tag-homogeneous proof vectors that
// flow between workers, the sender and the HTTP sink: ProofBatch,
// InValidation and ValidatedBatch, plus the algebraic operations and
// invariants spec.md §3/§8 require of them.
package proofbatch

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTagMismatch is returned by Merge when the batches being combined do
// not share the same (public_key, block_hash, block_height) tag.
var ErrTagMismatch = errors.New("proofbatch: all batches must share public_key, block_hash and block_height")

// ErrLengthMismatch is returned when nonces and distances disagree in length.
var ErrLengthMismatch = errors.New("proofbatch: len(nonces) != len(dist)")

// Tag identifies the submitter and block a batch of proofs belongs to.
type Tag struct {
	PublicKey   string `json:"public_key"`
	BlockHash   string `json:"block_hash"`
	BlockHeight uint64 `json:"block_height"`
}

// Batch is a homogeneous sequence of (nonce, distance) pairs tagged with a
// submitter and block. All entries share Tag; len(Nonces) == len(Dist).
type Batch struct {
	Tag
	Nonces []uint64  `json:"nonces"`
	Dist   []float32 `json:"dist"`
}

// New validates and constructs a Batch.
func New(tag Tag, nonces []uint64, dist []float32) (*Batch, error) {
	if len(nonces) != len(dist) {
		return nil, ErrLengthMismatch
	}
	return &Batch{Tag: tag, Nonces: nonces, Dist: dist}, nil
}

// Empty returns a zero-length batch with an empty tag.
func Empty() *Batch {
	return &Batch{}
}

// Len returns the number of (nonce, distance) pairs in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Nonces)
}

// SubBatch returns the subset of entries whose distance is strictly less
// than rTarget, preserving order.
func (b *Batch) SubBatch(rTarget float32) *Batch {
	nonces := make([]uint64, 0, len(b.Nonces))
	dist := make([]float32, 0, len(b.Nonces))
	for i, d := range b.Dist {
		if d < rTarget {
			nonces = append(nonces, b.Nonces[i])
			dist = append(dist, d)
		}
	}
	return &Batch{Tag: b.Tag, Nonces: nonces, Dist: dist}
}

// Split partitions the batch into chunks of at most batchSize entries,
// preserving order and the total length.
func (b *Batch) Split(batchSize int) []*Batch {
	if batchSize <= 0 {
		return []*Batch{b}
	}
	var out []*Batch
	for i := 0; i < len(b.Nonces); i += batchSize {
		end := i + batchSize
		if end > len(b.Nonces) {
			end = len(b.Nonces)
		}
		out = append(out, &Batch{
			Tag:    b.Tag,
			Nonces: b.Nonces[i:end],
			Dist:   b.Dist[i:end],
		})
	}
	return out
}

// SortByNonce returns a copy of the batch with entries sorted by ascending
// nonce. It is an idempotent permutation: SortByNonce applied twice equals
// applied once.
func (b *Batch) SortByNonce() *Batch {
	idx := make([]int, len(b.Nonces))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return b.Nonces[idx[i]] < b.Nonces[idx[j]]
	})

	nonces := make([]uint64, len(b.Nonces))
	dist := make([]float32, len(b.Dist))
	for i, j := range idx {
		nonces[i] = b.Nonces[j]
		dist[i] = b.Dist[j]
	}
	return &Batch{Tag: b.Tag, Nonces: nonces, Dist: dist}
}

// Merge concatenates tag-equal batches into one. It returns ErrTagMismatch
// if the batches disagree on public key, block hash or block height.
// Merging zero batches returns an Empty batch.
func Merge(batches []*Batch) (*Batch, error) {
	if len(batches) == 0 {
		return Empty(), nil
	}

	tag := batches[0].Tag
	total := 0
	for _, b := range batches {
		if b.Tag != tag {
			return nil, ErrTagMismatch
		}
		total += len(b.Nonces)
	}

	nonces := make([]uint64, 0, total)
	dist := make([]float32, 0, total)
	for _, b := range batches {
		nonces = append(nonces, b.Nonces...)
		dist = append(dist, b.Dist...)
	}
	return &Batch{Tag: tag, Nonces: nonces, Dist: dist}, nil
}

// GroupByPublicKey buckets batches by their submitter's public key,
// preserving the relative order within each bucket. Used by the worker's
// validate phase to merge same-submitter batches before re-chunking them
// (spec.md §4.3 VALIDATE).
func GroupByPublicKey(batches []*Batch) map[string][]*Batch {
	groups := make(map[string][]*Batch)
	for _, b := range batches {
		groups[b.PublicKey] = append(groups[b.PublicKey], b)
	}
	return groups
}

func (b *Batch) String() string {
	n := len(b.Nonces)
	head := n
	if head > 5 {
		head = 5
	}
	return fmt.Sprintf(
		"Batch(public_key=%s, block_hash=%s, block_height=%d, nonces=%v, dist=%v, length=%d)",
		b.PublicKey, b.BlockHash, b.BlockHeight, b.Nonces[:head], b.Dist[:head], n,
	)
}

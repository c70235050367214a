package proofbatch

import "errors"

// ErrProtocolError is returned when a submitted batch claims a distance
// that is not actually below r_target. Per spec.md §7 this is a protocol
// error — the submitter is malformed, not merely dishonest — and the
// batch must be dropped without being scored for fraud.
var ErrProtocolError = errors.New("proofbatch: received distance is not below r_target")

// InValidation is a pending-validation record: a ProofBatch a peer
// submitted, together with the locally-recomputed distance for each
// nonce seen so far. It becomes Ready once every nonce in Batch has a
// recomputed distance.
type InValidation struct {
	Batch        *Batch
	nonceToLocal map[uint64]float32
}

// NewInValidation starts tracking recomputed distances for batch.
func NewInValidation(batch *Batch) *InValidation {
	return &InValidation{
		Batch:        batch,
		nonceToLocal: make(map[uint64]float32, batch.Len()),
	}
}

// Process records recomputed distances from a (re-)validated batch. Entries
// whose tag does not match the tracked batch's public key and block hash
// are ignored, mirroring the source's InValidation.process guard.
func (v *InValidation) Process(recomputed *Batch) {
	if recomputed.BlockHash != v.Batch.BlockHash || recomputed.PublicKey != v.Batch.PublicKey {
		return
	}
	for i, n := range recomputed.Nonces {
		v.nonceToLocal[n] = recomputed.Dist[i]
	}
}

// IsReady reports whether every nonce in the tracked batch now has a
// recomputed distance.
func (v *InValidation) IsReady() bool {
	seen := make(map[uint64]struct{}, len(v.Batch.Nonces))
	for _, n := range v.Batch.Nonces {
		seen[n] = struct{}{}
	}
	for n := range seen {
		if _, ok := v.nonceToLocal[n]; !ok {
			return false
		}
	}
	return true
}

// Validated builds the ValidatedBatch once IsReady is true, scoring it
// against rTarget and fraudThreshold.
func (v *InValidation) Validated(rTarget float32, fraudThreshold float64) (*ValidatedBatch, error) {
	computed := make([]float32, len(v.Batch.Nonces))
	for i, n := range v.Batch.Nonces {
		computed[i] = v.nonceToLocal[n]
	}
	return NewValidatedBatch(
		v.Batch.Tag,
		v.Batch.Nonces,
		computed,
		v.Batch.Dist,
		rTarget,
		fraudThreshold,
	)
}

// ValidatedBatch extends Batch (whose Dist holds the locally-recomputed
// distances) with the submitter's originally-claimed distances, the
// r_target it was checked against, and the derived fraud verdict.
type ValidatedBatch struct {
	Batch
	ReceivedDist      []float32 `json:"received_dist"`
	RTarget           float32   `json:"r_target"`
	NInvalid          int       `json:"n_invalid"`
	FraudThreshold    float64   `json:"fraud_threshold"`
	ProbabilityHonest float64   `json:"probability_honest"`
	FraudDetected     bool      `json:"fraud_detected"`
}

// NewValidatedBatch constructs a ValidatedBatch from a submitter's claimed
// distances and the locally recomputed ones, checking the protocol
// invariant (every claimed distance must be below rTarget) before scoring
// the batch against the fraud model (§4.6).
func NewValidatedBatch(
	tag Tag,
	nonces []uint64,
	computedDist []float32,
	receivedDist []float32,
	rTarget float32,
	fraudThreshold float64,
) (*ValidatedBatch, error) {
	if len(nonces) != len(computedDist) || len(nonces) != len(receivedDist) {
		return nil, ErrLengthMismatch
	}

	nInvalid := 0
	for i, received := range receivedDist {
		if received >= rTarget {
			return nil, ErrProtocolError
		}
		if computedDist[i] > rTarget {
			nInvalid++
		}
	}

	probHonest := ProbabilityHonest(len(nonces), nInvalid, DefaultDishonestRate)
	vb := &ValidatedBatch{
		Batch: Batch{
			Tag:    tag,
			Nonces: nonces,
			Dist:   computedDist,
		},
		ReceivedDist:      receivedDist,
		RTarget:           rTarget,
		NInvalid:          nInvalid,
		FraudThreshold:    fraudThreshold,
		ProbabilityHonest: probHonest,
		FraudDetected:     probHonest < fraudThreshold,
	}
	return vb, nil
}

// EmptyValidated returns a zero-length ValidatedBatch, used as a
// placeholder when there is nothing to send.
func EmptyValidated() *ValidatedBatch {
	return &ValidatedBatch{ProbabilityHonest: 1}
}

package proofbatch

import "gonum.org/v1/gonum/mathext"

// DefaultDishonestRate is the network-wide null-hypothesis invalid rate
// p* (spec.md §4.6/§9): an honest submitter's per-nonce probability of
// producing a distance that no longer validates is assumed bounded by
// this constant. spec.md leaves open whether p* is a network constant or
// a per-session parameter; this rewrite fixes it as a constant so every
// node scores submitters against the same null hypothesis without it
// needing to travel in PowInitRequest.
const DefaultDishonestRate = 0.001

// ProbabilityHonest computes P(X >= k | N, p*) under the null hypothesis
// that invalids are Binomial(N, p*), i.e. the probability an honest
// submitter would produce at least k invalid proofs out of N. It is
// computed via the regularized incomplete beta function,
// P(X >= k) = I_p*(k, N-k+1), which stays numerically stable for N up to
// 10^5 and k at either tail (mathext.RegIncBeta evaluates its continued
// fraction in log space internally).
func ProbabilityHonest(n, k int, pStar float64) float64 {
	if k <= 0 {
		return 1
	}
	if k > n {
		return 0
	}
	return mathext.RegIncBeta(float64(k), float64(n-k+1), pStar)
}

package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gonka-ai/gonka/internal/config"
)

// rmsNorm applies root-mean-square layer normalization row-wise:
// x_i * weight / sqrt(mean(x_i^2) + eps).
func rmsNorm(x *mat.Dense, weight []float64, eps float64) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		var sumSq float64
		for c := 0; c < cols; c++ {
			v := x.At(r, c)
			sumSq += v * v
		}
		scale := 1.0 / math.Sqrt(sumSq/float64(cols)+eps)
		for c := 0; c < cols; c++ {
			out.Set(r, c, x.At(r, c)*scale*weight[c])
		}
	}
	return out
}

// ropeFreqs returns the RoPE rotation angle base for each pair of
// dimensions within a head, optionally applying the Llama3-style
// frequency scaling when UseScaledRope is set.
func ropeFreqs(headDim int, theta float64, scaled bool) []float64 {
	half := headDim / 2
	freqs := make([]float64, half)
	for i := 0; i < half; i++ {
		freq := 1.0 / math.Pow(theta, float64(2*i)/float64(headDim))
		if scaled {
			// Llama3-style low/high frequency scaling: damp the
			// slowest-rotating (long-wavelength) components, keep the
			// fastest-rotating ones as-is, and blend in between, so
			// long-context extrapolation degrades gracefully. Coefficients mirror the common
			// reference scaling (factor 8, low/high boundaries at 1 and 4
			// rotations per 8192 positions).
			const scaleFactor = 8.0
			const lowFreqFactor = 1.0
			const highFreqFactor = 4.0
			const oldContext = 8192.0

			lowWavelen := oldContext / lowFreqFactor
			highWavelen := oldContext / highFreqFactor
			wavelen := 2 * math.Pi / freq
			switch {
			case wavelen < highWavelen:
				// keep as-is
			case wavelen > lowWavelen:
				freq /= scaleFactor
			default:
				smooth := (oldContext/wavelen - lowFreqFactor) / (highFreqFactor - lowFreqFactor)
				freq = (1-smooth)*freq/scaleFactor + smooth*freq
			}
		}
		freqs[i] = freq
	}
	return freqs
}

// applyRoPE rotates each (2i, 2i+1) pair of a head vector at sequence
// position pos by pos*freqs[i].
func applyRoPE(vec []float64, freqs []float64, pos int) {
	for i, freq := range freqs {
		angle := float64(pos) * freq
		sin, cos := math.Sin(angle), math.Cos(angle)
		x, y := vec[2*i], vec[2*i+1]
		vec[2*i] = x*cos - y*sin
		vec[2*i+1] = x*sin + y*cos
	}
}

// block runs one transformer layer: pre-norm causal grouped-query
// attention with RoPE, residual, pre-norm SwiGLU feed-forward, residual.
func (m *Model) block(x *mat.Dense, l *layer) *mat.Dense {
	p := m.params
	normed := rmsNorm(x, l.attnNorm, p.NormEps)
	attnOut := attention(normed, l, p)

	rows, cols := x.Dims()
	h := mat.NewDense(rows, cols, nil)
	h.Add(x, attnOut)

	normed2 := rmsNorm(h, l.ffnNorm, p.NormEps)
	ffnOut := feedForward(normed2, l)

	out := mat.NewDense(rows, cols, nil)
	out.Add(h, ffnOut)
	return out
}

// attention computes causal grouped-query self-attention with RoPE over
// x (SeqLen x Dim).
func attention(x *mat.Dense, l *layer, p config.Params) *mat.Dense {
	seqLen, dim := x.Dims()
	headDim := p.HeadDim()
	groupSize := p.NumHeads / p.NumKVHeads

	var q, k, v mat.Dense
	q.Mul(x, l.wq)
	k.Mul(x, l.wk)
	v.Mul(x, l.wv)

	freqs := ropeFreqs(headDim, p.RopeTheta, p.UseScaledRope)

	// Rotate Q and K in place, per head, per position.
	rotate := func(m *mat.Dense, numHeads int) {
		for pos := 0; pos < seqLen; pos++ {
			for h := 0; h < numHeads; h++ {
				vec := make([]float64, headDim)
				for d := 0; d < headDim; d++ {
					vec[d] = m.At(pos, h*headDim+d)
				}
				applyRoPE(vec, freqs, pos)
				for d := 0; d < headDim; d++ {
					m.Set(pos, h*headDim+d, vec[d])
				}
			}
		}
	}
	rotate(&q, p.NumHeads)
	rotate(&k, p.NumKVHeads)

	out := mat.NewDense(seqLen, dim, nil)
	scale := 1.0 / math.Sqrt(float64(headDim))

	for h := 0; h < p.NumHeads; h++ {
		kvHead := h / groupSize
		for i := 0; i < seqLen; i++ {
			scores := make([]float64, i+1) // causal: attend to <= i
			maxScore := math.Inf(-1)
			for j := 0; j <= i; j++ {
				var dot float64
				for d := 0; d < headDim; d++ {
					dot += q.At(i, h*headDim+d) * k.At(j, kvHead*headDim+d)
				}
				dot *= scale
				scores[j] = dot
				if dot > maxScore {
					maxScore = dot
				}
			}
			var sum float64
			for j := range scores {
				scores[j] = math.Exp(scores[j] - maxScore)
				sum += scores[j]
			}
			for d := 0; d < headDim; d++ {
				var acc float64
				for j := 0; j <= i; j++ {
					acc += (scores[j] / sum) * v.At(j, kvHead*headDim+d)
				}
				out.Set(i, h*headDim+d, acc)
			}
		}
	}

	var proj mat.Dense
	proj.Mul(out, l.wo)
	return &proj
}

// feedForward computes the SwiGLU MLP: (silu(x Wgate) * (x Wup)) Wdown.
func feedForward(x *mat.Dense, l *layer) *mat.Dense {
	var gate, up mat.Dense
	gate.Mul(x, l.w1)
	up.Mul(x, l.w3)

	rows, cols := gate.Dims()
	gated := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g := gate.At(r, c)
			silu := g / (1 + math.Exp(-g))
			gated.Set(r, c, silu*up.At(r, c))
		}
	}

	var down mat.Dense
	down.Mul(gated, l.w2)
	return &down
}

package learning

import (
	"math"
	"math/rand"
)

// GradNorm returns the L2 norm of the gradients of params taken together.
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += g * g
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales the gradients of params so their total L2 norm is at
// most max, and returns the norm before clipping. A max of zero disables
// clipping. Non-finite norms are returned without touching the gradients.
func ClipGradNorm(params []*Param, max float64) float64 {
	norm := GradNorm(params)
	if max <= 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm
	}
	coef := max / (norm + 1e-6)
	if coef < 1 {
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] *= coef
			}
		}
	}
	return norm
}

// Embeddings returns the parameters marked as embeddings.
func Embeddings(params []*Param) []*Param {
	var out []*Param
	for _, p := range params {
		if p.Embedding {
			out = append(out, p)
		}
	}
	return out
}

// UniformInit fills every parameter with values drawn from [-bound, bound).
func UniformInit(params []*Param, bound float64, rng *rand.Rand) {
	for _, p := range params {
		for i := range p.Data {
			p.Data[i] = (2*rng.Float64() - 1) * bound
		}
	}
}

package learning

import "math"

// Adam implements the Adam optimizer with bias correction.
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	m̂ = m / (1 - β1^t)
//	v̂ = v / (1 - β2^t)
//	w = w - lr · m̂ / (√v̂ + ε)
type Adam struct {
	base
}

const (
	slotExpAvg   = "exp_avg"
	slotExpAvgSq = "exp_avg_sq"
)

func (o *Adam) Step(params []*Param) {
	o.steps++
	s := o.spec
	c1 := 1 - math.Pow(s.Beta1, float64(o.steps))
	c2 := 1 - math.Pow(s.Beta2, float64(o.steps))
	for _, p := range params {
		m, _ := o.slot(slotExpAvg, p)
		v, _ := o.slot(slotExpAvgSq, p)
		for i := range p.Data {
			g := o.gradient(p, i)
			m[i] = s.Beta1*m[i] + (1-s.Beta1)*g
			v[i] = s.Beta2*v[i] + (1-s.Beta2)*g*g
			p.Data[i] -= s.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + s.Eps)
		}
	}
}

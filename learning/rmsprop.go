package learning

import "math"

// RMSprop divides the gradient by a running average of its magnitude.
//
//	sq = α·sq + (1-α)·g²
//	buf = μ·buf + g / (√sq + ε)     with momentum
//	w = w - lr·buf                  or w - lr · g / (√sq + ε) without
type RMSprop struct {
	base
}

const slotSquareAvg = "square_avg"

func (o *RMSprop) Step(params []*Param) {
	o.steps++
	s := o.spec
	for _, p := range params {
		sq, _ := o.slot(slotSquareAvg, p)
		var buf []float64
		if s.Momentum > 0 {
			buf, _ = o.slot(slotMomentum, p)
		}
		for i := range p.Data {
			g := o.gradient(p, i)
			sq[i] = s.Alpha*sq[i] + (1-s.Alpha)*g*g
			step := g / (math.Sqrt(sq[i]) + s.Eps)
			if buf != nil {
				buf[i] = s.Momentum*buf[i] + step
				step = buf[i]
			}
			p.Data[i] -= s.LR * step
		}
	}
}

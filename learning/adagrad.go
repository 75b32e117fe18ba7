package learning

import "math"

// Adagrad scales each step by the accumulated squared gradients.
//
//	clr = lr / (1 + (t-1)·lr_decay)
//	sum = sum + g²
//	w = w - clr · g / (√sum + ε)
type Adagrad struct {
	base
}

const slotSum = "sum"

func (o *Adagrad) Step(params []*Param) {
	o.steps++
	s := o.spec
	clr := s.LR / (1 + float64(o.steps-1)*s.LRDecay)
	for _, p := range params {
		sum, _ := o.slot(slotSum, p)
		for i := range p.Data {
			g := o.gradient(p, i)
			sum[i] += g * g
			p.Data[i] -= clr * g / (math.Sqrt(sum[i]) + s.Eps)
		}
	}
}

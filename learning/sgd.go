package learning

// SGD is stochastic gradient descent with optional momentum, dampening,
// Nesterov momentum and L2 weight decay.
//
//	d = g + wd·w
//	buf = d                          on the first step
//	buf = μ·buf + (1-dampening)·d    afterwards
//	d = d + μ·buf (nesterov) or buf
//	w = w - lr·d
type SGD struct {
	base
}

const slotMomentum = "momentum_buffer"

func (o *SGD) Step(params []*Param) {
	o.steps++
	s := o.spec
	for _, p := range params {
		var buf []float64
		var seen bool
		if s.Momentum != 0 {
			buf, seen = o.slot(slotMomentum, p)
		}
		for i := range p.Data {
			d := o.gradient(p, i)
			if s.Momentum != 0 {
				if seen {
					buf[i] = s.Momentum*buf[i] + (1-s.Dampening)*d
				} else {
					buf[i] = d
				}
				if s.Nesterov {
					d += s.Momentum * buf[i]
				} else {
					d = buf[i]
				}
			}
			p.Data[i] -= s.LR * d
		}
	}
}

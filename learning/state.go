package learning

import "github.com/neurlang/seq2seq/config"

// State is the serializable state of an optimizer.
type State struct {
	Spec  config.OptimizerSpec            `json:"spec"`
	Steps int                             `json:"steps"`
	Slots map[string]map[string][]float64 `json:"slots,omitempty"`
}

func (s State) clone() State {
	out := State{Spec: s.Spec, Steps: s.Steps}
	if s.Slots != nil {
		out.Slots = make(map[string]map[string][]float64, len(s.Slots))
		for name, byParam := range s.Slots {
			out.Slots[name] = make(map[string][]float64, len(byParam))
			for param, values := range byParam {
				out.Slots[name][param] = append([]float64(nil), values...)
			}
		}
	}
	return out
}

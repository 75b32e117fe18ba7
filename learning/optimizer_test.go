package learning

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurlang/seq2seq/config"
)

func TestSGDPlain(t *testing.T) {
	opt, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 0.1})
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{1, -1}, Grad: []float64{2, -4}}
	opt.Step([]*Param{p})
	assert.InDeltaSlice(t, []float64{0.8, -0.6}, p.Data, 1e-12)
	assert.Empty(t, opt.State().Slots, "no momentum buffers without momentum")
}

func TestSGDMomentum(t *testing.T) {
	opt, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 0.1, Momentum: 0.9})
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{0}, Grad: []float64{1}}

	opt.Step([]*Param{p})
	assert.InDelta(t, -0.1, p.Data[0], 1e-12, "first step uses the raw gradient")
	opt.Step([]*Param{p})
	assert.InDelta(t, -0.1-0.19, p.Data[0], 1e-12, "buffer is 0.9*1 + 1")

	nesterov, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 0.1, Momentum: 0.9, Nesterov: true})
	require.NoError(t, err)
	q := &Param{Name: "w", Data: []float64{0}, Grad: []float64{1}}
	nesterov.Step([]*Param{q})
	assert.InDelta(t, -0.19, q.Data[0], 1e-12)
}

func TestSGDWeightDecay(t *testing.T) {
	opt, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 1, WeightDecay: 0.5})
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{2}, Grad: []float64{0}}
	opt.Step([]*Param{p})
	assert.InDelta(t, 1.0, p.Data[0], 1e-12)
}

func TestAdamFirstStep(t *testing.T) {
	opt, err := New(config.OptimizerDefaults(config.Adam))
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{5, 5}, Grad: []float64{1, -3}}
	opt.Step([]*Param{p})
	// Bias correction makes the first step lr in the direction of -sign(g).
	assert.InDelta(t, 5-1e-3, p.Data[0], 1e-9)
	assert.InDelta(t, 5+1e-3, p.Data[1], 1e-9)
}

func TestAdagradAndRMSpropDescend(t *testing.T) {
	for _, kind := range []config.OptimizerKind{config.Adagrad, config.RMSprop} {
		t.Run(string(kind), func(t *testing.T) {
			spec := config.OptimizerDefaults(kind)
			spec.Momentum = 0.5
			if kind == config.Adagrad {
				spec.Momentum = 0
				spec.LRDecay = 0.1
			}
			opt, err := New(spec)
			require.NoError(t, err)
			// minimize (w-3)²
			p := &Param{Name: "w", Data: []float64{0}, Grad: []float64{0}}
			start := math.Abs(p.Data[0] - 3)
			for i := 0; i < 50; i++ {
				p.Grad[0] = 2 * (p.Data[0] - 3)
				opt.Step([]*Param{p})
			}
			assert.Less(t, math.Abs(p.Data[0]-3), start)
		})
	}
}

func TestNewRejects(t *testing.T) {
	_, err := New(config.OptimizerSpec{Kind: config.SGD})
	assert.Error(t, err)
	_, err = New(config.OptimizerSpec{Kind: "Lion", LR: 1})
	assert.Error(t, err)
}

func TestSetSpecKeepsState(t *testing.T) {
	opt, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 0.1, Momentum: 0.9})
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{0}, Grad: []float64{1}}
	opt.Step([]*Param{p})

	require.NoError(t, opt.SetSpec(config.OptimizerSpec{Kind: config.SGD, LR: 0.01, Momentum: 0.9}))
	assert.Equal(t, 0.01, opt.Spec().LR)
	assert.Equal(t, []float64{1}, opt.State().Slots[slotMomentum]["w"])

	err = opt.SetSpec(config.OptimizerDefaults(config.Adam))
	assert.True(t, errors.Is(err, ErrKindMismatch))
}

func TestMomentumResetOnRebuild(t *testing.T) {
	spec := config.OptimizerSpec{Kind: config.SGD, LR: 0.1, Momentum: 0.9}
	opt, err := New(spec)
	require.NoError(t, err)
	p := &Param{Name: "w", Data: []float64{0}, Grad: []float64{1}}
	opt.Step([]*Param{p})
	opt.Step([]*Param{p})

	fresh, err := New(spec)
	require.NoError(t, err)
	assert.Empty(t, fresh.State().Slots)
	assert.Zero(t, fresh.State().Steps)
}

func TestStateRoundTrip(t *testing.T) {
	opt, err := New(config.OptimizerDefaults(config.Adam))
	require.NoError(t, err)
	params := []*Param{
		{Name: "emb", Data: []float64{1, 2}, Grad: []float64{0.5, -0.5}, Embedding: true},
		{Name: "out", Data: []float64{3}, Grad: []float64{1}},
	}
	opt.Step(params)

	raw, err := json.Marshal(opt.State())
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(raw, &state))

	restored, err := Restore(state)
	require.NoError(t, err)
	if diff := cmp.Diff(opt.State(), restored.State()); diff != "" {
		t.Errorf("unexpected state (-want +got):\n%s", diff)
	}

	a := []*Param{{Name: "emb", Data: []float64{1, 2}, Grad: []float64{1, 1}}, {Name: "out", Data: []float64{3}, Grad: []float64{1}}}
	b := []*Param{{Name: "emb", Data: []float64{1, 2}, Grad: []float64{1, 1}}, {Name: "out", Data: []float64{3}, Grad: []float64{1}}}
	opt.Step(a)
	restored.Step(b)
	assert.Equal(t, a[0].Data, b[0].Data)
	assert.Equal(t, a[1].Data, b[1].Data)

	sgd, err := New(config.OptimizerSpec{Kind: config.SGD, LR: 1})
	require.NoError(t, err)
	assert.True(t, errors.Is(sgd.LoadState(state), ErrKindMismatch))
}

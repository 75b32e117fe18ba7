package aligned

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/models"
	"github.com/neurlang/seq2seq/parallel"
)

// Name is the registered model name.
const Name = "AlignedSoftmax"

func init() {
	models.Register(Name, New)
}

// Model is the aligned softmax model.
type Model struct {
	srcVocab, tgtVocab, hidden int
	reverse                    bool
	threads                    int

	embedding *learning.Param // srcVocab × hidden
	output    *learning.Param // hidden × tgtVocab
	bias      *learning.Param // tgtVocab
	params    []*learning.Param
}

// New is the models.Factory.
func New(options *config.Mapping) (models.Model, error) {
	if unknown := options.Unknown("hidden_size", "reverse", "init_range", "seed", "threads", "encoder", "decoder", "vocab_size"); len(unknown) > 0 {
		return nil, errors.Wrapf(config.ErrConfig, "%s: %s does not accept %v", config.FragmentModelConfig, Name, unknown)
	}
	src, tgt, err := models.VocabSizes(options)
	if err != nil {
		return nil, err
	}
	hidden, err := options.Int("hidden_size", 256)
	if err != nil {
		return nil, err
	}
	reverse, err := options.Bool("reverse", false)
	if err != nil {
		return nil, err
	}
	initRange, err := options.Float("init_range", 0.1)
	if err != nil {
		return nil, err
	}
	seed, err := options.Int("seed", 1)
	if err != nil {
		return nil, err
	}
	threads, err := options.Int("threads", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	if hidden <= 0 {
		return nil, errors.Wrapf(config.ErrConfig, "%s: hidden_size %d must be positive", config.FragmentModelConfig, hidden)
	}
	m := &Model{srcVocab: src, tgtVocab: tgt, hidden: hidden, reverse: reverse, threads: threads}
	m.embedding = newParam("encoder.embedding", src*hidden, true)
	m.output = newParam("decoder.output.weight", hidden*tgt, false)
	m.bias = newParam("decoder.output.bias", tgt, false)
	m.params = []*learning.Param{m.embedding, m.output, m.bias}
	learning.UniformInit(m.params[:2], initRange, rand.New(rand.NewSource(int64(seed))))
	return m, nil
}

func newParam(name string, n int, embedding bool) *learning.Param {
	return &learning.Param{Name: name, Data: make([]float64, n), Grad: make([]float64, n), Embedding: embedding}
}

func (m *Model) Parameters() []*learning.Param {
	return m.params
}

func (m *Model) String() string {
	return fmt.Sprintf("%s(encoder: Embedding(%d, %d), decoder: Linear(%d, %d), reverse=%t)",
		Name, m.srcVocab, m.hidden, m.hidden, m.tgtVocab, m.reverse)
}

// aligned returns the source token scored with target position t.
func (m *Model) aligned(src []int, t int) int {
	if m.reverse {
		t = len(src) - 1 - t
	}
	if t < 0 || t >= len(src) {
		return datasets.PAD
	}
	return src[t]
}

// scored is the forward pass of one example: for every target token its
// aligned input and the gradient of its loss with respect to the logits.
type scored struct {
	inputs []int
	dz     [][]float64
	loss   float64
	right  int
	err    error
}

func (m *Model) score(e datasets.Example, train bool) (s scored) {
	w, b := m.output.Data, m.bias.Data
	z := make([]float64, m.tgtVocab)
	for t, y := range e.Target {
		x := m.aligned(e.Source, t)
		if x < 0 || x >= m.srcVocab || y < 0 || y >= m.tgtVocab {
			s.err = errors.Errorf("aligned: token out of vocabulary (source %d of %d, target %d of %d)", x, m.srcVocab, y, m.tgtVocab)
			return s
		}
		h := m.embedding.Data[x*m.hidden : (x+1)*m.hidden]
		copy(z, b)
		for k, hk := range h {
			row := w[k*m.tgtVocab : (k+1)*m.tgtVocab]
			for j := range z {
				z[j] += hk * row[j]
			}
		}
		top, argmax := math.Inf(-1), 0
		for j, v := range z {
			if v > top {
				top, argmax = v, j
			}
		}
		var sum float64
		for _, v := range z {
			sum += math.Exp(v - top)
		}
		s.loss += math.Log(sum) + top - z[y]
		if argmax == y {
			s.right++
		}
		if train {
			dz := make([]float64, m.tgtVocab)
			for j, v := range z {
				dz[j] = math.Exp(v-top) / sum
			}
			dz[y]--
			s.inputs = append(s.inputs, x)
			s.dz = append(s.dz, dz)
		}
	}
	return s
}

// Forward scores the examples of batch in parallel and accumulates their
// gradients in example order.
func (m *Model) Forward(batch datasets.Batch, train bool) (models.Result, error) {
	results := make([]scored, batch.Len())
	parallel.ForEach(batch.Len(), m.threads, func(i int) {
		results[i] = m.score(batch.Examples[i], train)
	})

	var res models.Result
	var loss float64
	for i, s := range results {
		if s.err != nil {
			return models.Result{}, errors.Wrapf(s.err, "example %d", i)
		}
		loss += s.loss
		res.Correct += s.right
		res.Tokens += len(batch.Examples[i].Target)
	}
	if res.Tokens == 0 {
		return res, nil
	}
	res.Loss = loss / float64(res.Tokens)
	if !train {
		return res, nil
	}

	scale := 1 / float64(res.Tokens)
	w := m.output.Data
	dE, dW, db := m.embedding.Grad, m.output.Grad, m.bias.Grad
	for _, s := range results {
		for n, x := range s.inputs {
			dz := s.dz[n]
			h := m.embedding.Data[x*m.hidden : (x+1)*m.hidden]
			dh := dE[x*m.hidden : (x+1)*m.hidden]
			for j, g := range dz {
				db[j] += g * scale
			}
			for k, hk := range h {
				row := w[k*m.tgtVocab : (k+1)*m.tgtVocab]
				drow := dW[k*m.tgtVocab : (k+1)*m.tgtVocab]
				var acc float64
				for j, g := range dz {
					drow[j] += hk * g * scale
					acc += row[j] * g
				}
				dh[k] += acc * scale
			}
		}
	}
	return res, nil
}

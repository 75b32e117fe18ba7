package trainer

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/logging"
	"github.com/neurlang/seq2seq/models"
	"github.com/neurlang/seq2seq/regime"
)

// counting has n training examples and dev validation examples. The source
// of example i is [i].
type counting struct {
	train, dev int
}

func (c counting) Len(split datasets.Split) int {
	if split == datasets.Dev {
		return c.dev
	}
	return c.train
}

func (c counting) Example(_ datasets.Split, i int) (datasets.Example, error) {
	return datasets.Example{Source: []int{i}, Target: []int{datasets.EOS}}, nil
}

func (counting) SourceTokenizer() datasets.Tokenizer { return nil }
func (counting) TargetTokenizer() datasets.Tokenizer { return nil }

// scripted is a model with one weight and a gradient of 1 per step. With emb
// set it also has an embedding whose gradient is embGrad.
type scripted struct {
	w       *learning.Param
	emb     *learning.Param
	embGrad float64

	trained   []int
	valLosses []float64
	evals     int
	nanGrad   map[int]bool
	nanLoss   map[int]bool
}

func newScripted() *scripted {
	return &scripted{w: &learning.Param{Name: "w", Data: []float64{0}, Grad: []float64{0}}}
}

func (m *scripted) Parameters() []*learning.Param {
	if m.emb != nil {
		return []*learning.Param{m.w, m.emb}
	}
	return []*learning.Param{m.w}
}

func (m *scripted) withEmbedding(grad float64) *scripted {
	m.emb = &learning.Param{Name: "emb", Data: []float64{0}, Grad: []float64{0}, Embedding: true}
	m.embGrad = grad
	return m
}

func (m *scripted) Forward(b datasets.Batch, train bool) (models.Result, error) {
	tokens := len(b.Examples)
	if !train {
		loss := 1.0
		if len(m.valLosses) > 0 {
			loss = m.valLosses[m.evals%len(m.valLosses)]
		}
		m.evals++
		return models.Result{Loss: loss, Tokens: tokens, Correct: tokens}, nil
	}
	m.trained = append(m.trained, b.Index)
	if m.nanLoss[b.Index] {
		return models.Result{Loss: math.NaN(), Tokens: tokens}, nil
	}
	if m.nanGrad[b.Index] {
		m.w.Grad[0] = math.Inf(1)
	} else {
		m.w.Grad[0] += 1
	}
	if m.emb != nil {
		m.emb.Grad[0] += m.embGrad
	}
	return models.Result{Loss: 1, Tokens: tokens}, nil
}

func (m *scripted) String() string { return "scripted" }

type fixture struct {
	dir     string
	model   *scripted
	metrics *Metrics
	train   *datasets.Loader
	val     *datasets.Loader
}

func newFixture(t *testing.T, trainSize int) *fixture {
	t.Helper()
	ds := counting{train: trainSize, dev: 1}
	return &fixture{
		dir:     t.TempDir(),
		model:   newScripted(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		train:   datasets.NewLoader(ds, datasets.Train, datasets.LoaderConfig{BatchSize: 1, Shuffle: true, Seed: 3}),
		val:     datasets.NewLoader(ds, datasets.Dev, datasets.LoaderConfig{BatchSize: 1}),
	}
}

func (f *fixture) options(t *testing.T, regimeText string) Options {
	t.Helper()
	r, err := config.ResolveRegime(regimeText)
	require.NoError(t, err)
	return Options{
		Model:           f.model,
		Regime:          regime.New(r, config.DefaultOptimizerSpec()),
		Checkpoints:     checkpoint.NewManager(f.dir, logr.Discard()),
		Results:         checkpoint.NewResultsLog(f.dir),
		Metrics:         f.metrics,
		ProgressionFile: filepath.Join(f.dir, ProgressionFileName),
		Log:             logging.NewTestLogger(),
		Epochs:          1,
		PrintFreq:       1000,
		SaveFreq:        1000,
		EvalFreq:        1000,
		RunID:           "test-run",
	}
}

const plainSGD = "{0: {'optimizer': 'SGD', 'lr': 0.1}}"

func TestNewValidates(t *testing.T) {
	f := newFixture(t, 1)
	for name, mutate := range map[string]func(*Options){
		"no model":        func(o *Options) { o.Model = nil },
		"no regime":       func(o *Options) { o.Regime = nil },
		"no checkpoints":  func(o *Options) { o.Checkpoints = nil },
		"zero eval freq":  func(o *Options) { o.EvalFreq = 0 },
		"negative clip":   func(o *Options) { o.GradClip = -1 },
		"nan clip":        func(o *Options) { o.GradClip = math.NaN() },
		"inf embed clip":  func(o *Options) { o.EmbeddingGradClip = ptr.To(math.Inf(1)) },
		"negative epochs": func(o *Options) { o.Epochs = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := f.options(t, plainSGD)
			mutate(&opts)
			tr, err := New(opts)
			assert.Error(t, err)
			assert.Nil(t, tr)
		})
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t, 1)
	assert.Contains(t, Names(), DefaultName)

	tr, err := Open(DefaultName, f.options(t, plainSGD))
	require.NoError(t, err)
	assert.Equal(t, Idle, tr.Status())

	_, err = Open("GAN", f.options(t, plainSGD))
	assert.True(t, errors.Is(err, ErrUnknownTrainer))
}

func TestResumeKeepsCadence(t *testing.T) {
	f := newFixture(t, 2600)
	opts := f.options(t, plainSGD)
	opts.Epochs = 6
	opts.EvalFreq = 2500

	saved := &checkpoint.Checkpoint{
		State:      checkpoint.TrainingState{Epoch: 5, Iteration: 120, RegimeKey: 0, RunID: "earlier"},
		Parameters: map[string][]float64{"w": {0.5}},
	}
	require.NoError(t, opts.Checkpoints.Save(saved, false))

	tr, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, tr.Resume(opts.Checkpoints.Path()))
	assert.Equal(t, 5, tr.State().Epoch)
	assert.Equal(t, "earlier", tr.State().RunID)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	assert.Len(t, f.model.trained, 2480)
	assert.Equal(t, 120, f.model.trained[0])
	assert.Equal(t, 1, f.model.evals)

	rows := opts.Results.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Epoch)
	assert.Equal(t, 2500, rows[0].Iteration)

	assert.Equal(t, Completed, tr.Status())
	assert.Equal(t, 6, tr.State().Epoch)
	assert.Equal(t, 0, tr.State().Iteration)

	latest, err := opts.Checkpoints.Load(opts.Checkpoints.Path())
	require.NoError(t, err)
	assert.Equal(t, 6, latest.State.Epoch)
	assert.Equal(t, 0, latest.State.Iteration)
	require.NotNil(t, latest.Optimizer)
	assert.Equal(t, 2480, latest.Optimizer.Steps)
}

func TestRegimeTransitions(t *testing.T) {
	f := newFixture(t, 4)
	opts := f.options(t, "{0: {'optimizer': 'SGD', 'lr': 0.1, 'momentum': 0.9}, 3: {'optimizer': 'SGD', 'lr': 0.01}, 5: {'lr': 0.001}}")
	opts.Epochs = 6
	tr, err := New(opts)
	require.NoError(t, err)

	type step struct {
		lr    float64
		steps int
		key   int
	}
	want := []step{
		{lr: 0.1, steps: 4, key: 0},
		{lr: 0.1, steps: 8, key: 0},
		{lr: 0.1, steps: 12, key: 0},
		{lr: 0.01, steps: 4, key: 3},
		{lr: 0.01, steps: 8, key: 3},
		{lr: 0.001, steps: 12, key: 5},
	}
	var got []step
	var optimizers []learning.Optimizer
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		require.NoError(t, tr.RunEpoch(context.Background(), f.train, f.val))
		opt := tr.Optimizer()
		got = append(got, step{lr: opt.Spec().LR, steps: opt.State().Steps, key: tr.State().RegimeKey})
		optimizers = append(optimizers, opt)
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(step{})); diff != "" {
		t.Errorf("unexpected optimizer history (-want +got):\n%s", diff)
	}
	assert.Same(t, optimizers[0], optimizers[2], "no change within the first entry")
	assert.NotSame(t, optimizers[2], optimizers[3], "naming the optimizer rebuilds it")
	assert.Same(t, optimizers[4], optimizers[5], "changing only the lr keeps the state")
	assert.Equal(t, Completed, tr.Status())
	assert.Equal(t, 0.001, testutil.ToFloat64(f.metrics.LearningRate))
}

func TestNumericInstabilitySkipsStep(t *testing.T) {
	f := newFixture(t, 4)
	f.train = datasets.NewLoader(counting{train: 4, dev: 1}, datasets.Train, datasets.LoaderConfig{BatchSize: 1})
	f.model.nanGrad = map[int]bool{1: true}
	f.model.nanLoss = map[int]bool{2: true}
	opts := f.options(t, plainSGD)
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	assert.InDelta(t, -0.2, f.model.w.Data[0], 1e-12)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Instabilities))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.Iterations))
	assert.Equal(t, 2, tr.Optimizer().State().Steps)
}

func TestGradientClipping(t *testing.T) {
	f := newFixture(t, 1)
	opts := f.options(t, plainSGD)
	opts.GradClip = 0.5
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))
	assert.InDelta(t, -0.05, f.model.w.Data[0], 1e-6)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GradNorm))
}

func TestBestCheckpoint(t *testing.T) {
	f := newFixture(t, 6)
	f.model.valLosses = []float64{3, 2, 4}
	opts := f.options(t, plainSGD)
	opts.EvalFreq = 2
	opts.SaveFreq = 2
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	best, err := opts.Checkpoints.Load(opts.Checkpoints.Dir())
	require.NoError(t, err)
	assert.Equal(t, 0, best.State.Epoch)
	assert.Equal(t, 4, best.State.Iteration)
	assert.Equal(t, ptr.To(2.0), best.State.BestLoss)

	latest, err := opts.Checkpoints.Load(opts.Checkpoints.Path())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.TrainingState{Epoch: 1, RegimeKey: 0, BestLoss: ptr.To(2.0), RunID: "test-run"}, latest.State)

	var losses []float64
	for _, row := range opts.Results.Rows() {
		losses = append(losses, row.ValLoss)
	}
	assert.Equal(t, []float64{3, 2, 4}, losses)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Checkpoints.WithLabelValues("best")))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.Checkpoints.WithLabelValues("latest")))
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, 1)
	f.val = datasets.NewLoader(counting{dev: 3}, datasets.Dev, datasets.LoaderConfig{BatchSize: 2})
	f.model.valLosses = []float64{0.5}
	tr, err := New(f.options(t, plainSGD))
	require.NoError(t, err)

	ev, err := tr.Evaluate(context.Background(), f.val)
	require.NoError(t, err)
	assert.Equal(t, 3, ev.Tokens)
	assert.InDelta(t, 0.5, ev.Loss, 1e-12)
	assert.InDelta(t, math.Exp(0.5), ev.Perplexity, 1e-12)
	assert.Equal(t, 1.0, ev.Accuracy)

	_, err = tr.Evaluate(context.Background(), datasets.NewLoader(counting{}, datasets.Dev, datasets.LoaderConfig{}))
	assert.Error(t, err)
}

func TestEvaluationFailureDegrades(t *testing.T) {
	f := newFixture(t, 2)
	f.val = datasets.NewLoader(counting{}, datasets.Dev, datasets.LoaderConfig{})
	opts := f.options(t, plainSGD)
	opts.EvalFreq = 1
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EvaluationFailures))
	assert.Empty(t, opts.Results.Rows())
	_, ok := tr.LastEvaluation()
	assert.False(t, ok)
}

func TestResumeFailureLeavesState(t *testing.T) {
	f := newFixture(t, 1)
	opts := f.options(t, plainSGD)
	tr, err := New(opts)
	require.NoError(t, err)
	tr.SetEpoch(2)

	err = tr.Resume(filepath.Join(f.dir, "missing.json.zlib"))
	assert.True(t, errors.Is(err, checkpoint.ErrCheckpointUnavailable))

	wrong := &checkpoint.Checkpoint{
		State:      checkpoint.TrainingState{Epoch: 7, Iteration: 3},
		Parameters: map[string][]float64{"w": {1, 2}},
	}
	require.NoError(t, opts.Checkpoints.Save(wrong, false))
	err = tr.Resume(opts.Checkpoints.Path())
	assert.True(t, errors.Is(err, checkpoint.ErrCheckpointUnavailable))

	assert.Equal(t, 2, tr.State().Epoch)
	assert.Equal(t, 0.0, f.model.w.Data[0])
	assert.Nil(t, tr.Optimizer())
}

func TestResumeDirectoryReconcilesResults(t *testing.T) {
	previous := t.TempDir()
	old := checkpoint.NewManager(previous, logr.Discard())
	state := checkpoint.TrainingState{Epoch: 0, Iteration: 4, BestLoss: ptr.To(1.5), RunID: "previous"}
	require.NoError(t, old.Save(&checkpoint.Checkpoint{State: state, Parameters: map[string][]float64{"w": {0.25}}}, true))
	oldResults := checkpoint.NewResultsLog(previous)
	for _, row := range []checkpoint.Result{
		{Epoch: 0, Iteration: 2, ValLoss: 1.0},
		{Epoch: 0, Iteration: 4, ValLoss: 1.5},
		{Epoch: 1, Iteration: 2, ValLoss: 0.5},
	} {
		require.NoError(t, oldResults.Append(row))
	}

	f := newFixture(t, 1)
	opts := f.options(t, plainSGD)
	tr, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, tr.Resume(previous))

	assert.Equal(t, state, tr.State())
	assert.Equal(t, 0.25, f.model.w.Data[0])

	rows, err := checkpoint.ReadResults(opts.Results.Path())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[1].Iteration)
}

func TestCancelStopsWithoutSaving(t *testing.T) {
	f := newFixture(t, 3)
	opts := f.options(t, plainSGD)
	tr, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tr.Run(ctx, f.train, f.val)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.NoFileExists(t, opts.Checkpoints.Path())
	assert.Equal(t, Running, tr.Status())
}

func TestProgressionFile(t *testing.T) {
	f := newFixture(t, 3)
	opts := f.options(t, plainSGD)
	opts.Epochs = 2
	opts.EvalFreq = 3
	tr, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	data, err := os.ReadFile(opts.ProgressionFile)
	require.NoError(t, err)
	var p Progression
	require.NoError(t, json.Unmarshal(data, &p))

	assert.Equal(t, "completed", p.Message)
	assert.Equal(t, ptr.To(int64(2)), p.CurrentEpoch)
	assert.Equal(t, ptr.To(int64(2)), p.TotalEpochs)
	assert.NotNil(t, p.StartTime)
	assert.Equal(t, 1.0, p.Metrics["val_loss"])
	assert.Equal(t, 0.1, p.TrainingMetrics["learning_rate"])
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "evaluating", Evaluating.String())
	assert.Equal(t, "unknown", Phase(9).String())
}

func TestEmbeddingClipRunsBeforeGlobalClip(t *testing.T) {
	f := newFixture(t, 1)
	f.model.withEmbedding(3)
	opts := f.options(t, plainSGD)
	opts.EmbeddingGradClip = ptr.To(1.0)
	opts.GradClip = 1
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	// The embedding gradient 3 is cut to 1 first, then the global norm
	// sqrt(2) is cut to 1, leaving 1/sqrt(2) on both parameters.
	step := 0.1 / math.Sqrt2
	assert.InDelta(t, -step, f.model.emb.Data[0], 1e-5)
	assert.InDelta(t, -step, f.model.w.Data[0], 1e-5)
	assert.InDelta(t, math.Sqrt2, testutil.ToFloat64(f.metrics.GradNorm), 1e-5)
}

func TestEmbeddingClipOnly(t *testing.T) {
	f := newFixture(t, 1)
	f.model.withEmbedding(3)
	opts := f.options(t, plainSGD)
	opts.EmbeddingGradClip = ptr.To(1.0)
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))
	assert.InDelta(t, -0.1, f.model.emb.Data[0], 1e-5)
	assert.InDelta(t, -0.1, f.model.w.Data[0], 1e-12)
}

func TestNonFiniteEmbeddingGradientSkipsStep(t *testing.T) {
	f := newFixture(t, 2)
	f.model.withEmbedding(math.Inf(1))
	opts := f.options(t, plainSGD)
	opts.EmbeddingGradClip = ptr.To(1.0)
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))
	assert.Equal(t, 0.0, f.model.w.Data[0])
	assert.Equal(t, 0.0, f.model.emb.Data[0])
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Instabilities))
	assert.Equal(t, 0, tr.Optimizer().State().Steps)
}

func TestNonFiniteValidationLossIsSkipped(t *testing.T) {
	for name, loss := range map[string]float64{"nan": math.NaN(), "inf": math.Inf(1)} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 4)
			f.model.valLosses = []float64{loss}
			opts := f.options(t, plainSGD)
			opts.EvalFreq = 2
			opts.SaveFreq = 2
			tr, err := New(opts)
			require.NoError(t, err)

			require.NoError(t, tr.Run(context.Background(), f.train, f.val))

			assert.Nil(t, tr.State().BestLoss)
			assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EvaluationFailures))
			assert.Empty(t, opts.Results.Rows())
			assert.NoFileExists(t, opts.Checkpoints.BestPath())

			latest, err := opts.Checkpoints.Load(opts.Checkpoints.Path())
			require.NoError(t, err)
			assert.Equal(t, 1, latest.State.Epoch)
			assert.Nil(t, latest.State.BestLoss)

			_, err = tr.Evaluate(context.Background(), f.val)
			assert.True(t, errors.Is(err, ErrNumericInstability), "got %v", err)
		})
	}
}

func TestFailedSaveKeepsBestLoss(t *testing.T) {
	f := newFixture(t, 2)
	f.model.valLosses = []float64{2}
	opts := f.options(t, plainSGD)
	opts.EvalFreq = 2
	opts.SaveFreq = 2
	blocked := filepath.Join(f.dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	opts.Checkpoints = checkpoint.NewManager(filepath.Join(blocked, "run"), logr.Discard())
	tr, err := New(opts)
	require.NoError(t, err)

	assert.Error(t, tr.Run(context.Background(), f.train, f.val))
	assert.Nil(t, tr.State().BestLoss)
}

func TestWarningsAreStructured(t *testing.T) {
	f := newFixture(t, 1)
	f.model.nanLoss = map[int]bool{0: true}
	var lines []string
	opts := f.options(t, plainSGD)
	opts.Log = funcr.New(func(prefix, args string) { lines = append(lines, args) }, funcr.Options{})
	tr, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background(), f.train, f.val))

	var warnings []string
	for _, line := range lines {
		if strings.Contains(line, `"warning"=true`) {
			warnings = append(warnings, line)
		}
	}
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"msg"="skipped optimizer step"`)
}

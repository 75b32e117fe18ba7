package trainer

import (
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/device"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/models"
	"github.com/neurlang/seq2seq/regime"
)

// ErrNumericInstability marks an iteration whose loss or gradient norm was
// not finite. The optimizer step of that iteration is skipped.
var ErrNumericInstability = errors.New("trainer: numeric instability")

// Status is the top level state of a trainer.
type Status int

const (
	Idle Status = iota
	Running
	Completed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Phase is the activity of a running trainer within an epoch.
type Phase int

const (
	Training Phase = iota
	Evaluating
	Saving
	Logging
)

func (p Phase) String() string {
	switch p {
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Saving:
		return "saving"
	case Logging:
		return "logging"
	}
	return "unknown"
}

// Options configure a Trainer.
type Options struct {
	Model       models.Model
	Regime      *regime.Scheduler
	Devices     *device.Allocator
	Checkpoints *checkpoint.Manager
	// Results receives one row per evaluation. Optional.
	Results *checkpoint.ResultsLog
	// Metrics are updated as training advances. Optional.
	Metrics *Metrics
	// ProgressionFile receives a training_progression.json status after
	// every report. Optional.
	ProgressionFile string
	Log             logr.Logger

	Epochs    int
	PrintFreq int
	SaveFreq  int
	EvalFreq  int

	// GradClip bounds the global gradient norm; zero disables it.
	GradClip float64
	// EmbeddingGradClip bounds the gradient norm of the embeddings before the
	// global clip is applied.
	EmbeddingGradClip *float64

	// Metadata is stored with every checkpoint.
	Metadata checkpoint.Metadata
	RunID    string
}

// Trainer owns the training state of one run.
type Trainer struct {
	opts    Options
	log     logr.Logger
	metrics *Metrics

	state     checkpoint.TrainingState
	optimizer learning.Optimizer
	status    Status
	phase     Phase

	lastEval   *Evaluation
	lastNorm   float64
	sincePrint meter
	sinceEval  meter
	started    time.Time
	perEpoch   int
}

// New validates opts and returns an idle trainer at epoch 0.
func New(opts Options) (*Trainer, error) {
	switch {
	case opts.Model == nil:
		return nil, errors.New("trainer: no model")
	case opts.Regime == nil:
		return nil, errors.New("trainer: no optimization regime")
	case opts.Checkpoints == nil:
		return nil, errors.New("trainer: no checkpoint manager")
	case opts.Epochs < 0:
		return nil, errors.Errorf("trainer: epochs %d is negative", opts.Epochs)
	case opts.PrintFreq <= 0 || opts.SaveFreq <= 0 || opts.EvalFreq <= 0:
		return nil, errors.Errorf("trainer: frequencies must be positive, got print %d save %d eval %d",
			opts.PrintFreq, opts.SaveFreq, opts.EvalFreq)
	case opts.GradClip < 0 || !finite(opts.GradClip):
		return nil, errors.Errorf("trainer: grad_clip %v is not a finite non-negative number", opts.GradClip)
	case opts.EmbeddingGradClip != nil && (*opts.EmbeddingGradClip < 0 || !finite(*opts.EmbeddingGradClip)):
		return nil, errors.Errorf("trainer: embedding_grad_clip %v is not a finite non-negative number", *opts.EmbeddingGradClip)
	}
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Trainer{
		opts:    opts,
		log:     opts.Log,
		metrics: m,
		state:   checkpoint.TrainingState{RegimeKey: regime.DefaultKey, RunID: opts.RunID},
	}, nil
}

// State returns a copy of the training state.
func (t *Trainer) State() checkpoint.TrainingState {
	s := t.state
	if s.BestLoss != nil {
		best := *s.BestLoss
		s.BestLoss = &best
	}
	return s
}

// SetEpoch positions an idle trainer at the start of epoch.
func (t *Trainer) SetEpoch(epoch int) {
	t.state.Epoch = epoch
	t.state.Iteration = 0
}

// Status returns the top level state.
func (t *Trainer) Status() Status {
	return t.status
}

// Phase returns the current activity within an epoch.
func (t *Trainer) Phase() Phase {
	return t.phase
}

// Optimizer returns the optimizer in use, nil before the first epoch starts
// unless one was restored.
func (t *Trainer) Optimizer() learning.Optimizer {
	return t.optimizer
}

// LastEvaluation returns the most recent evaluation, if any.
func (t *Trainer) LastEvaluation() (Evaluation, bool) {
	if t.lastEval == nil {
		return Evaluation{}, false
	}
	return *t.lastEval, true
}

// applyRegime brings the optimizer in line with the regime entry in force at
// the current epoch.
func (t *Trainer) applyRegime() error {
	epoch := t.state.Epoch
	spec := t.opts.Regime.SpecFor(epoch)
	key := t.opts.Regime.KeyFor(epoch)

	transition := regime.Reset
	if t.optimizer != nil {
		transition = t.opts.Regime.TransitionFrom(t.state.RegimeKey, epoch)
	}
	switch transition {
	case regime.Reset:
		opt, err := learning.New(spec)
		if err != nil {
			return errors.Wrapf(err, "trainer: build optimizer for epoch %d", epoch)
		}
		t.optimizer = opt
		t.log.Info("optimizer built", "epoch", epoch, "regime_key", key, "spec", spec.String())
	case regime.Update:
		if err := t.optimizer.SetSpec(spec); err != nil {
			return errors.Wrapf(err, "trainer: update optimizer for epoch %d", epoch)
		}
		t.log.Info("optimizer updated", "epoch", epoch, "regime_key", key, "spec", spec.String())
	}
	t.state.RegimeKey = key
	t.metrics.LearningRate.Set(spec.LR)
	return nil
}

// warn logs at the default level with a "warning" key, so warnings can be
// filtered in structured sinks.
func (t *Trainer) warn(msg string, keysAndValues ...interface{}) {
	t.log.Info(msg, append([]interface{}{"warning", true}, keysAndValues...)...)
}

// meter averages losses weighted by their token counts.
type meter struct {
	sum    float64
	tokens int
}

func (m *meter) add(loss float64, tokens int) {
	m.sum += loss * float64(tokens)
	m.tokens += tokens
}

func (m *meter) mean() float64 {
	if m.tokens == 0 {
		return 0
	}
	return m.sum / float64(m.tokens)
}

func (m *meter) reset() {
	*m = meter{}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

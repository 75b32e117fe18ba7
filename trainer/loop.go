package trainer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/ptr"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/models"
)

// Run trains epochs until the configured number of epochs is reached.
// Canceling ctx stops at the next batch without saving.
func (t *Trainer) Run(ctx context.Context, train, val *datasets.Loader) error {
	t.started = time.Now()
	if t.state.Epoch >= t.opts.Epochs {
		t.complete()
		return nil
	}
	t.log.Info("training regime", "regime", t.opts.Regime.String())
	if t.opts.Devices != nil {
		t.log.Info("training on", "devices", t.opts.Devices.String())
	}
	for t.state.Epoch < t.opts.Epochs {
		if err := t.RunEpoch(ctx, train, val); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) complete() {
	t.status = Completed
	t.log.Info("training completed", "epoch", t.state.Epoch)
	t.writeProgression("completed")
}

// RunEpoch trains the rest of the current epoch.
func (t *Trainer) RunEpoch(ctx context.Context, train, val *datasets.Loader) error {
	if t.started.IsZero() {
		t.started = time.Now()
	}
	t.status = Running
	t.phase = Training
	if err := t.applyRegime(); err != nil {
		return err
	}
	t.metrics.Epoch.Set(float64(t.state.Epoch))
	total := train.Len()
	t.perEpoch = total
	if t.state.Iteration > 0 {
		t.log.Info("skipping consumed batches", "epoch", t.state.Epoch, "iteration", t.state.Iteration)
	}

	it := train.Epoch(ctx, t.state.Epoch, t.state.Iteration)
	defer it.Close()
	for {
		wait := time.Now()
		batch, err := it.Next(ctx)
		if errors.Is(err, datasets.ErrExhausted) {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "trainer: epoch %d iteration %d", t.state.Epoch, t.state.Iteration)
		}
		t.metrics.BatchWait.Observe(time.Since(wait).Seconds())

		t.phase = Training
		res, err := t.step(batch)
		switch {
		case errors.Is(err, ErrNumericInstability):
			t.metrics.Instabilities.Inc()
			t.warn("skipped optimizer step", "epoch", t.state.Epoch, "iteration", t.state.Iteration, "reason", err.Error())
		case err != nil:
			return errors.Wrapf(err, "trainer: epoch %d iteration %d", t.state.Epoch, t.state.Iteration)
		default:
			t.sincePrint.add(res.Loss, res.Tokens)
			t.sinceEval.add(res.Loss, res.Tokens)
			t.metrics.TrainLoss.Set(res.Loss)
			t.metrics.GradNorm.Set(t.lastNorm)
		}
		t.state.Iteration++
		t.metrics.Iterations.Inc()

		if t.state.Iteration%t.opts.PrintFreq == 0 {
			t.phase = Logging
			t.report(total)
		}
		if t.state.Iteration%t.opts.EvalFreq == 0 {
			t.phase = Evaluating
			t.evaluateAndRecord(ctx, val)
		}
		if t.state.Iteration%t.opts.SaveFreq == 0 {
			t.phase = Saving
			if err := t.save(); err != nil {
				return err
			}
		}
	}

	t.log.V(1).Info("epoch finished", "epoch", t.state.Epoch, "iterations", t.state.Iteration)
	t.state.Epoch++
	t.state.Iteration = 0
	t.phase = Saving
	if err := t.save(); err != nil {
		return err
	}
	t.phase = Training
	if t.state.Epoch >= t.opts.Epochs {
		t.complete()
	} else {
		t.writeProgression("epoch finished")
	}
	return nil
}

// step runs forward and backward on batch, clips the gradients and updates
// the parameters. Non-finite losses or norms skip the update.
func (t *Trainer) step(batch datasets.Batch) (models.Result, error) {
	params := t.opts.Model.Parameters()
	learning.ZeroGrad(params)
	res, err := t.opts.Model.Forward(batch, true)
	if err != nil {
		return res, err
	}
	if !finite(res.Loss) {
		return res, errors.Wrapf(ErrNumericInstability, "loss is %v", res.Loss)
	}
	if clip := t.opts.EmbeddingGradClip; clip != nil {
		if norm := learning.ClipGradNorm(learning.Embeddings(params), *clip); !finite(norm) {
			return res, errors.Wrapf(ErrNumericInstability, "embedding gradient norm is %v", norm)
		}
	}
	norm := learning.ClipGradNorm(params, t.opts.GradClip)
	if !finite(norm) {
		return res, errors.Wrapf(ErrNumericInstability, "gradient norm is %v", norm)
	}
	t.lastNorm = norm
	t.optimizer.Step(params)
	return res, nil
}

func (t *Trainer) report(total int) {
	lr := t.optimizer.Spec().LR
	t.log.Info("train",
		"epoch", t.state.Epoch,
		"iteration", t.state.Iteration,
		"of", total,
		"loss", t.sincePrint.mean(),
		"tokens", t.sincePrint.tokens,
		"lr", lr,
		"grad_norm", t.lastNorm,
	)
	t.sincePrint.reset()
	t.writeProgression("training")
}

// improved reports whether the latest evaluation beats the best loss saved
// so far.
func (t *Trainer) improved() bool {
	if t.lastEval == nil || !finite(t.lastEval.Loss) {
		return false
	}
	return t.state.BestLoss == nil || t.lastEval.Loss < *t.state.BestLoss
}

// save writes a checkpoint of the current state, as the best model too when
// the latest evaluation improved on the best loss.
func (t *Trainer) save() error {
	isBest := t.improved()
	state := t.State()
	if isBest {
		state.BestLoss = ptr.To(t.lastEval.Loss)
	}
	ckpt := &checkpoint.Checkpoint{
		State:      state,
		Parameters: models.StateDict(t.opts.Model),
		Metadata:   t.opts.Metadata,
	}
	ckpt.Metadata.SavedAt = time.Now().UTC()
	if t.optimizer != nil {
		ckpt.Optimizer = ptr.To(t.optimizer.State())
	}
	if err := t.opts.Checkpoints.Save(ckpt, isBest); err != nil {
		return errors.Wrapf(err, "trainer: save at epoch %d iteration %d", t.state.Epoch, t.state.Iteration)
	}
	t.state.BestLoss = state.BestLoss
	t.metrics.Checkpoints.WithLabelValues("latest").Inc()
	if isBest {
		t.metrics.Checkpoints.WithLabelValues("best").Inc()
		t.log.Info("new best model", "epoch", t.state.Epoch, "iteration", t.state.Iteration, "val_loss", *t.state.BestLoss)
	}
	return nil
}

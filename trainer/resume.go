package trainer

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/models"
)

// Load restores only the model weights from the checkpoint at path.
func (t *Trainer) Load(path string) error {
	ckpt, err := t.opts.Checkpoints.Load(path)
	if err != nil {
		return err
	}
	if err := models.LoadStateDict(t.opts.Model, ckpt.Parameters); err != nil {
		return errors.Wrapf(checkpoint.ErrCheckpointUnavailable, "%s: %v", path, err)
	}
	t.log.Info("loaded model", "path", path, "epoch", ckpt.State.Epoch, "iteration", ckpt.State.Iteration)
	return nil
}

// Resume restores the training state, weights and optimizer state from the
// checkpoint at path. A directory resumes from its best model, and its
// results log replaces the one of this run, truncated to the restored
// position. On error the trainer is left unchanged.
func (t *Trainer) Resume(path string) error {
	ckpt, err := t.opts.Checkpoints.Load(path)
	if err != nil {
		return err
	}
	var opt learning.Optimizer
	if ckpt.Optimizer != nil {
		if opt, err = learning.Restore(*ckpt.Optimizer); err != nil {
			return errors.Wrapf(checkpoint.ErrCheckpointUnavailable, "%s: %v", path, err)
		}
	}
	if err := models.LoadStateDict(t.opts.Model, ckpt.Parameters); err != nil {
		return errors.Wrapf(checkpoint.ErrCheckpointUnavailable, "%s: %v", path, err)
	}

	t.state = ckpt.State
	if t.state.RunID == "" {
		t.state.RunID = t.opts.RunID
	}
	t.optimizer = opt
	t.lastEval = nil
	t.sincePrint.reset()
	t.sinceEval.reset()

	t.log.Info("resumed",
		"path", path,
		"epoch", t.state.Epoch,
		"iteration", t.state.Iteration,
		"regime_key", t.state.RegimeKey,
		"run_id", t.state.RunID,
	)
	t.reconcileResults(path)
	return nil
}

// reconcileResults brings the results log of this run in line with the
// restored position. The checkpoint wins over the results log.
func (t *Trainer) reconcileResults(path string) {
	log := t.opts.Results
	if log == nil {
		return
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		rows, err := checkpoint.ReadResults(filepath.Join(path, checkpoint.ResultsFileName))
		if err != nil {
			t.log.Error(err, "results of the resumed run not loaded", "path", path)
			return
		}
		if err := log.Replace(rows); err != nil {
			t.log.Error(err, "results log not replaced", "path", log.Path())
			return
		}
	} else if err := log.Load(); err != nil {
		t.log.Error(err, "results log not loaded", "path", log.Path())
		return
	}

	dropped, err := log.Truncate(t.state.Epoch, t.state.Iteration)
	if err != nil {
		t.log.Error(err, "results log not truncated", "path", log.Path())
		return
	}
	if dropped > 0 {
		t.log.Info("dropped results past the resumed position", "rows", dropped)
	}
	if best, ok := log.Best(); ok && t.state.BestLoss != nil && best.ValLoss != *t.state.BestLoss {
		t.warn("results log disagrees with the checkpoint about the best loss",
			"results", best.ValLoss, "checkpoint", *t.state.BestLoss)
	}
}

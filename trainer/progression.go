package trainer

import (
	"encoding/json"
	"time"

	"k8s.io/utils/ptr"

	"github.com/neurlang/seq2seq/checkpoint"
)

// ProgressionFileName is the conventional name of the progression file.
const ProgressionFileName = "training_progression.json"

// Progression is the training status written to the progression file, in the
// format read by Kubeflow Trainer.
type Progression struct {
	CurrentStep     *int64                 `json:"current_step,omitempty"`
	TotalSteps      *int64                 `json:"total_steps,omitempty"`
	CurrentEpoch    *int64                 `json:"current_epoch,omitempty"`
	TotalEpochs     *int64                 `json:"total_epochs,omitempty"`
	Message         string                 `json:"message,omitempty"`
	TrainingMetrics map[string]interface{} `json:"training_metrics,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	Timestamp       int64                  `json:"timestamp"`
	StartTime       *int64                 `json:"start_time,omitempty"`
}

func (t *Trainer) progression(message string) Progression {
	p := Progression{
		CurrentStep:  ptr.To(int64(t.state.Epoch*t.perEpoch + t.state.Iteration)),
		CurrentEpoch: ptr.To(int64(t.state.Epoch)),
		TotalEpochs:  ptr.To(int64(t.opts.Epochs)),
		Message:      message,
		TrainingMetrics: map[string]interface{}{
			"loss":      t.sinceEval.mean(),
			"grad_norm": t.lastNorm,
		},
		Timestamp: time.Now().Unix(),
	}
	if t.perEpoch > 0 {
		p.TotalSteps = ptr.To(int64(t.opts.Epochs * t.perEpoch))
	}
	if t.optimizer != nil {
		p.TrainingMetrics["learning_rate"] = t.optimizer.Spec().LR
	}
	if t.lastEval != nil {
		p.Metrics = map[string]interface{}{
			"val_loss":       t.lastEval.Loss,
			"val_perplexity": t.lastEval.Perplexity,
			"val_accuracy":   t.lastEval.Accuracy,
		}
	}
	if !t.started.IsZero() {
		p.StartTime = ptr.To(t.started.Unix())
	}
	return p
}

// writeProgression replaces the progression file. Failures are only logged.
func (t *Trainer) writeProgression(message string) {
	if t.opts.ProgressionFile == "" {
		return
	}
	data, err := json.Marshal(t.progression(message))
	if err == nil {
		err = checkpoint.WriteFileAtomic(t.opts.ProgressionFile, data, 0o644)
	}
	if err != nil {
		t.log.V(1).Info("progression file not written", "path", t.opts.ProgressionFile, "error", err.Error())
	}
}

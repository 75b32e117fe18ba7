package config

import (
	"math"
	"path/filepath"
)

// Tensor types accepted by --type.
const (
	TypeCPU  = "cpu"
	TypeCUDA = "cuda"
)

// RunConfig is the resolved configuration of one training run. It is built once
// at startup; the only later writer is the command injecting vocabulary sizes
// into ModelConfig before the model is constructed.
type RunConfig struct {
	Dataset    string   `json:"dataset"`
	DatasetDir string   `json:"dataset_dir"`
	DataConfig *Mapping `json:"data_config"`

	Model       string   `json:"model"`
	ModelConfig *Mapping `json:"model_config"`

	Trainer string     `json:"trainer"`
	Type    string     `json:"type"`
	Devices DeviceSpec `json:"devices"`
	Regime  Regime     `json:"optimization_config"`

	Epochs     int `json:"epochs"`
	StartEpoch int `json:"start_epoch"`

	BatchSize         int  `json:"batch_size"`
	Workers           int  `json:"workers"`
	MaxLength         int  `json:"max_length"`
	PackEncoderInputs bool `json:"pack_encoder_inputs"`

	PrintFreq int `json:"print_freq"`
	SaveFreq  int `json:"save_freq"`
	EvalFreq  int `json:"eval_freq"`

	GradClip          float64  `json:"grad_clip"`
	EmbeddingGradClip *float64 `json:"embedding_grad_clip,omitempty"`
	UniformInit       *float64 `json:"uniform_init,omitempty"`

	ResultsDir string `json:"results_dir"`
	Save       string `json:"save"`
	Resume     string `json:"resume,omitempty"`
	Evaluate   string `json:"evaluate,omitempty"`

	MetricsAddr string `json:"metrics_addr,omitempty"`
	Verbosity   int    `json:"verbosity"`
}

// SavePath is the directory holding this run's checkpoints, logs and results.
func (c *RunConfig) SavePath() string {
	return filepath.Join(c.ResultsDir, c.Save)
}

// Known lists the registered names a RunConfig may select. An empty list is
// not checked.
type Known struct {
	Datasets []string
	Models   []string
	Trainers []string
}

// Validate checks ranges and registry names.
func (c *RunConfig) Validate(known Known) error {
	if err := oneOf("dataset", c.Dataset, known.Datasets); err != nil {
		return err
	}
	if err := oneOf("model", c.Model, known.Models); err != nil {
		return err
	}
	if err := oneOf("trainer", c.Trainer, known.Trainers); err != nil {
		return err
	}
	if c.Type != TypeCPU && c.Type != TypeCUDA {
		return newError("type", "%q is not one of %s, %s", c.Type, TypeCPU, TypeCUDA)
	}
	if c.Epochs < 0 {
		return newError("epochs", "%d is negative", c.Epochs)
	}
	if c.StartEpoch < 0 || c.StartEpoch > c.Epochs {
		return newError("start-epoch", "%d is outside [0, %d]", c.StartEpoch, c.Epochs)
	}
	for _, p := range []struct {
		name  string
		value int
	}{
		{"batch-size", c.BatchSize},
		{"max_length", c.MaxLength},
		{"print-freq", c.PrintFreq},
		{"save-freq", c.SaveFreq},
		{"eval-freq", c.EvalFreq},
	} {
		if p.value <= 0 {
			return newError(p.name, "%d is not positive", p.value)
		}
	}
	if c.Workers < 0 {
		return newError("workers", "%d is negative", c.Workers)
	}
	if err := nonNegative("grad_clip", &c.GradClip); err != nil {
		return err
	}
	if err := nonNegative("embedding_grad_clip", c.EmbeddingGradClip); err != nil {
		return err
	}
	if err := nonNegative("uniform_init", c.UniformInit); err != nil {
		return err
	}
	return nil
}

// nonNegative rejects negative and non-finite values. A nil v is unset.
func nonNegative(fragment string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return newError(fragment, "%g is not finite", *v)
	}
	if *v < 0 {
		return newError(fragment, "%g is negative", *v)
	}
	return nil
}

func oneOf(fragment, value string, choices []string) error {
	if len(choices) == 0 {
		return nil
	}
	for _, c := range choices {
		if c == value {
			return nil
		}
	}
	return newError(fragment, "%q is not one of %v", value, choices)
}

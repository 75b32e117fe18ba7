package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SEQ2SEQ_EVAL_FREQ.
const EnvPrefix = "SEQ2SEQ"

// TimestampLayout names the default save directory of a run.
const TimestampLayout = "2006-01-02_15-04-05"

// AddFlags registers the run configuration flags on fs.
func AddFlags(fs *flag.FlagSet, defaultWorkers int) {
	fs.String("dataset", "TextPairs", "dataset used")
	fs.String("dataset_dir", "", "dataset dir")
	fs.String("data_config", "{'tokenization': 'word', 'num_symbols': 32000, 'shared_vocab': True}", "data configuration")
	fs.String("results_dir", "./results", "results dir")
	fs.String("save", "", "saved folder (default: timestamp)")
	fs.String("model", "AlignedSoftmax", "model architecture")
	fs.String("model_config", "{'hidden_size': 256}", "architecture configuration")
	fs.String("devices", "0", `device assignment (e.g "0,1", {'encoder': 0, 'decoder': 1})`)
	fs.String("trainer", "Seq2SeqTrainer", "trainer used")
	fs.String("type", TypeCPU, "compute type: cpu or cuda")
	fs.IntP("workers", "j", defaultWorkers, "number of data loading workers")
	fs.Int("epochs", 90, "number of total epochs to run")
	fs.Int("start-epoch", 0, "manual epoch number (useful on restarts)")
	fs.IntP("batch-size", "b", 32, "mini-batch size")
	fs.Bool("pack_encoder_inputs", false, "order each batch by decreasing source length")
	fs.String("optimization_config", "{0: {'optimizer': 'SGD', 'lr': 0.1, 'momentum': 0.9}}", "optimization regime used")
	fs.Int("print-freq", 50, "print frequency in iterations")
	fs.Int("save-freq", 1000, "save frequency in iterations")
	fs.Int("eval-freq", 2500, "evaluation frequency in iterations")
	fs.String("resume", "", "path to latest checkpoint or run directory")
	fs.StringP("evaluate", "e", "", "evaluate model FILE on validation set")
	fs.Float64("grad_clip", 5, "maximum grad norm value, 0 disables")
	fs.String("embedding_grad_clip", "", "maximum embedding grad norm value (default: none)")
	fs.String("uniform_init", "", "if set, init weights to U(-value, value)")
	fs.Int("max_length", 100, "maximum sequence length")
	fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	fs.IntP("verbosity", "v", 0, "log verbosity")
}

// Load resolves the run configuration with precedence flags > environment >
// config file > flag defaults, then validates it. file may be empty.
func Load(fs *flag.FlagSet, file string, known Known) (*RunConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, newError("config", "cannot read %s: %v", file, err)
		}
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	cfg := &RunConfig{
		Dataset:           v.GetString("dataset"),
		DatasetDir:        v.GetString("dataset_dir"),
		Model:             v.GetString("model"),
		Trainer:           v.GetString("trainer"),
		Type:              v.GetString("type"),
		Workers:           v.GetInt("workers"),
		Epochs:            v.GetInt("epochs"),
		StartEpoch:        v.GetInt("start-epoch"),
		BatchSize:         v.GetInt("batch-size"),
		PackEncoderInputs: v.GetBool("pack_encoder_inputs"),
		PrintFreq:         v.GetInt("print-freq"),
		SaveFreq:          v.GetInt("save-freq"),
		EvalFreq:          v.GetInt("eval-freq"),
		Resume:            v.GetString("resume"),
		Evaluate:          v.GetString("evaluate"),
		GradClip:          v.GetFloat64("grad_clip"),
		MaxLength:         v.GetInt("max_length"),
		ResultsDir:        v.GetString("results_dir"),
		Save:              v.GetString("save"),
		MetricsAddr:       v.GetString("metrics-addr"),
		Verbosity:         v.GetInt("verbosity"),
	}

	var err error
	if cfg.DataConfig, err = ResolveDataConfig(v.GetString("data_config")); err != nil {
		return nil, err
	}
	if cfg.ModelConfig, err = ResolveModelConfig(v.GetString("model_config")); err != nil {
		return nil, err
	}
	if cfg.Regime, err = ResolveRegime(v.GetString("optimization_config")); err != nil {
		return nil, err
	}
	if cfg.Devices, err = ResolveDevices(v.GetString("devices")); err != nil {
		return nil, err
	}
	if cfg.EmbeddingGradClip, err = optionalFloat("embedding_grad_clip", v.GetString("embedding_grad_clip")); err != nil {
		return nil, err
	}
	if cfg.UniformInit, err = optionalFloat("uniform_init", v.GetString("uniform_init")); err != nil {
		return nil, err
	}

	if cfg.Evaluate != "" {
		cfg.ResultsDir = os.TempDir()
	}
	if cfg.Save == "" {
		cfg.Save = time.Now().Format(TimestampLayout)
	}

	if err := cfg.Validate(known); err != nil {
		return nil, err
	}
	return cfg, nil
}

func optionalFloat(fragment, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, newError(fragment, "%q is not a float", s)
	}
	return &f, nil
}

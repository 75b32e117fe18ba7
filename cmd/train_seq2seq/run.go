package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/device"
	"github.com/neurlang/seq2seq/learning"
	"github.com/neurlang/seq2seq/logging"
	"github.com/neurlang/seq2seq/models"
	"github.com/neurlang/seq2seq/regime"
	"github.com/neurlang/seq2seq/trainer"
)

// shuffleSeed fixes the per-epoch order of the training examples, so a
// resumed run skips exactly the batches it already trained on.
const shuffleSeed = 1

func run(ctx context.Context, cfg *config.RunConfig, host device.HostInfo) error {
	savePath := cfg.SavePath()
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return errors.Wrap(err, "create save directory")
	}
	logFile := filepath.Join(savePath, logging.FileName(time.Now().Format(config.TimestampLayout)))
	log, flush, err := logging.New(logFile, cfg.Verbosity)
	if err != nil {
		return err
	}
	defer flush()

	runID := uuid.NewString()
	log = log.WithValues("run_id", runID)
	log.Info("saving to", "path", savePath)
	log.V(logging.DEBUG).Info("run configuration", "config", cfg)
	log.Info("host", "cpu", host.Brand, "cores", host.PhysicalCores, "threads", host.LogicalCores,
		"avx2", host.AVX2, "avx512", host.AVX512, "workers", cfg.Workers)

	devices, err := device.New(cfg.Devices)
	if err != nil {
		return err
	}
	log.Info("devices", "assignment", devices.String(), "input", devices.Lookup(device.RoleInput))
	if cfg.Type == config.TypeCUDA {
		for _, index := range devices.Devices() {
			acc, err := device.Probe(index)
			if err != nil {
				return err
			}
			log.Info("accelerator", "index", acc.Index, "name", acc.Name, "memory", acc.MemoryBytes)
		}
	}

	ds, err := datasets.Open(cfg.Dataset, cfg.DatasetDir, cfg.DataConfig)
	if err != nil {
		return err
	}
	src, tgt := ds.SourceTokenizer(), ds.TargetTokenizer()
	log.Info("dataset", "name", cfg.Dataset, "train", ds.Len(datasets.Train), "dev", ds.Len(datasets.Dev),
		"source_vocab", src.VocabSize(), "target_vocab", tgt.VocabSize())

	if err := models.InjectVocabSizes(cfg.ModelConfig, src.VocabSize(), tgt.VocabSize()); err != nil {
		return err
	}
	model, err := models.New(cfg.Model, cfg.ModelConfig)
	if err != nil {
		return err
	}
	log.Info("model", "name", cfg.Model, "config", cfg.ModelConfig.String(), "parameters", models.NumParameters(model))
	log.V(logging.DEBUG).Info("model structure", "model", model.String())
	if cfg.UniformInit != nil {
		learning.UniformInit(model.Parameters(), *cfg.UniformInit, rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	loaderCfg := datasets.LoaderConfig{
		BatchSize:         cfg.BatchSize,
		Workers:           cfg.Workers,
		MaxLength:         cfg.MaxLength,
		PackEncoderInputs: cfg.PackEncoderInputs,
	}
	valLoader := datasets.NewLoader(ds, datasets.Dev, loaderCfg)
	loaderCfg.Shuffle, loaderCfg.Seed = true, shuffleSeed
	trainLoader := datasets.NewLoader(ds, datasets.Train, loaderCfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, log)
		defer shutdown()
	}

	tr, err := trainer.Open(cfg.Trainer, trainer.Options{
		Model:             model,
		Regime:            regime.New(cfg.Regime, config.DefaultOptimizerSpec()),
		Devices:           devices,
		Checkpoints:       checkpoint.NewManager(savePath, log),
		Results:           checkpoint.NewResultsLog(savePath),
		Metrics:           trainer.NewMetrics(reg),
		ProgressionFile:   filepath.Join(savePath, trainer.ProgressionFileName),
		Log:               log,
		Epochs:            cfg.Epochs,
		PrintFreq:         cfg.PrintFreq,
		SaveFreq:          cfg.SaveFreq,
		EvalFreq:          cfg.EvalFreq,
		GradClip:          cfg.GradClip,
		EmbeddingGradClip: cfg.EmbeddingGradClip,
		Metadata: checkpoint.Metadata{
			Model:  cfg.Model,
			Config: cfg,
			Tokenizers: map[string]datasets.TokenizerDescriptor{
				"source": src.Descriptor(),
				"target": tgt.Descriptor(),
			},
		},
		RunID: runID,
	})
	if err != nil {
		return err
	}

	if cfg.Evaluate != "" {
		if err := tr.Load(cfg.Evaluate); err != nil {
			return err
		}
		ev, err := tr.Evaluate(ctx, valLoader)
		if err != nil {
			return err
		}
		log.Info("evaluation", "checkpoint", cfg.Evaluate, "loss", ev.Loss, "perplexity", ev.Perplexity,
			"accuracy", ev.Accuracy, "tokens", ev.Tokens)
		return nil
	}

	resumed := false
	if cfg.Resume != "" {
		if err := tr.Resume(cfg.Resume); err != nil {
			log.Error(err, "resume failed, starting from the configured epoch", "path", cfg.Resume, "start_epoch", cfg.StartEpoch)
		} else {
			resumed = true
		}
	}
	if !resumed {
		tr.SetEpoch(cfg.StartEpoch)
	}

	if err := tr.Run(ctx, trainLoader, valLoader); err != nil {
		if errors.Is(err, context.Canceled) {
			state := tr.State()
			log.Info("interrupted", "epoch", state.Epoch, "iteration", state.Iteration)
		}
		return err
	}
	return nil
}

// serveMetrics serves reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, log logr.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server stopped", "addr", addr)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

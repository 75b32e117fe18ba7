package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/trainer"
)

func execute(args ...string) error {
	cmd := newCommand()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func commonArgs(results string) []string {
	return []string{
		"--dataset=SyntheticCopy",
		"--data_config={'size': 48, 'dev_size': 8, 'num_symbols': 6, 'max_length': 5}",
		"--model_config={'hidden_size': 4, 'threads': 2}",
		"--optimization_config={0: {'optimizer': 'SGD', 'lr': 0.5}}",
		"--batch-size=8",
		"--workers=2",
		"--print-freq=2",
		"--save-freq=3",
		"--eval-freq=3",
		"--results_dir=" + results,
	}
}

func loadState(t *testing.T, path string) checkpoint.TrainingState {
	t.Helper()
	ckpt, err := checkpoint.NewManager(filepath.Dir(path), logr.Discard()).Load(path)
	require.NoError(t, err)
	return ckpt.State
}

func TestTrainResumeEvaluate(t *testing.T) {
	results := t.TempDir()
	common := commonArgs(results)

	require.NoError(t, execute(append(common, "--epochs=2", "--save=first")...))
	first := filepath.Join(results, "first")
	for _, name := range []string{checkpoint.FileName, checkpoint.BestFileName, checkpoint.ResultsFileName, trainer.ProgressionFileName} {
		assert.FileExists(t, filepath.Join(first, name))
	}
	logs, err := filepath.Glob(filepath.Join(first, "log_*.txt"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	rows, err := checkpoint.ReadResults(filepath.Join(first, checkpoint.ResultsFileName))
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	state := loadState(t, filepath.Join(first, checkpoint.FileName))
	assert.Equal(t, 2, state.Epoch)
	assert.Equal(t, 0, state.Iteration)
	assert.NotNil(t, state.BestLoss)

	require.NoError(t, execute(append(common, "--epochs=3", "--save=second", "--resume="+filepath.Join(first, checkpoint.FileName))...))
	second := filepath.Join(results, "second")
	assert.Equal(t, 3, loadState(t, filepath.Join(second, checkpoint.FileName)).Epoch)
	rows, err = checkpoint.ReadResults(filepath.Join(second, checkpoint.ResultsFileName))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Epoch)

	save := "train_seq2seq_test_" + strconv.Itoa(os.Getpid())
	t.Cleanup(func() { os.RemoveAll(filepath.Join(os.TempDir(), save)) })
	require.NoError(t, execute(append(common, "--save="+save, "--evaluate="+filepath.Join(second, checkpoint.FileName))...))
	assert.NoFileExists(t, filepath.Join(os.TempDir(), save, checkpoint.FileName))
}

func TestResumeFailureStartsFresh(t *testing.T) {
	results := t.TempDir()
	args := append(commonArgs(results), "--epochs=2", "--start-epoch=1", "--save=fresh",
		"--resume="+filepath.Join(results, "missing"))
	require.NoError(t, execute(args...))

	rows, err := checkpoint.ReadResults(filepath.Join(results, "fresh", checkpoint.ResultsFileName))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, 1, row.Epoch)
	}
}

func TestStartupErrors(t *testing.T) {
	results := t.TempDir()
	for name, extra := range map[string]string{
		"unknown dataset": "--dataset=WMT16_de_en",
		"bad regime":      "--optimization_config={0: {'optimizer': 'Lion'}}",
		"bad devices":     "--devices=(0, 999)",
		"bad model":       "--model_config={'hidden_size': 'wide'}",
	} {
		t.Run(name, func(t *testing.T) {
			err := execute(append(commonArgs(results), "--save=broken", extra)...)
			require.Error(t, err)
			assert.False(t, errors.Is(err, context.Canceled))
		})
	}

	err := execute(append(commonArgs(results), "--save=unknown", "--dataset=WMT16_de_en")...)
	assert.True(t, errors.Is(err, config.ErrConfig), "got %v", err)
}

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
)

func sample(epoch, iteration int) *Checkpoint {
	return &Checkpoint{
		State: TrainingState{
			Epoch:     epoch,
			Iteration: iteration,
			RegimeKey: 3,
			BestLoss:  ptr.To(1.25),
			RunID:     "run",
		},
		Parameters: map[string][]float64{"emb": {0.1, -0.2}, "out": {3}},
		Optimizer: &learning.State{
			Spec:  config.DefaultOptimizerSpec(),
			Steps: 7,
			Slots: map[string]map[string][]float64{"momentum_buffer": {"emb": {1, 2}}},
		},
		Metadata: Metadata{
			Model:      "AlignedSoftmax",
			Tokenizers: map[string]datasets.TokenizerDescriptor{"source": {Kind: "word", Vocab: []string{"<pad>", "a"}}},
			SavedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	m := NewManager(dir, logr.Discard())

	want := sample(5, 120)
	require.NoError(t, m.Save(want, false))
	assert.FileExists(t, m.Path())
	assert.NoFileExists(t, m.BestPath())

	got, err := m.Load(m.Path())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected checkpoint (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestSaveBestAndLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, logr.Discard())

	require.NoError(t, m.Save(sample(1, 10), true))
	require.NoError(t, m.Save(sample(1, 20), false))

	latest, err := m.Load(m.Path())
	require.NoError(t, err)
	assert.Equal(t, 20, latest.State.Iteration)

	best, err := m.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, best.State.Iteration, "a directory resolves to the best model")
}

func TestLoadUnavailable(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, logr.Discard())

	_, err := m.Load(filepath.Join(dir, "missing.json.zlib"))
	assert.True(t, errors.Is(err, ErrCheckpointUnavailable))

	_, err = m.Load(dir)
	assert.True(t, errors.Is(err, ErrCheckpointUnavailable), "directory without a best model")

	corrupt := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(corrupt, []byte("not zlib"), 0o644))
	_, err = m.Load(corrupt)
	assert.True(t, errors.Is(err, ErrCheckpointUnavailable))
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

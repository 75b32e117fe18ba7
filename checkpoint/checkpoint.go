// Package checkpoint persists training state: zlib compressed JSON checkpoints
// written atomically, the best model artifact, and the per-run results log.
package checkpoint

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
)

// File names inside a run directory.
const (
	FileName     = "checkpoint.json.zlib"
	BestFileName = "model_best.json.zlib"
)

// ErrCheckpointUnavailable is matched by every load failure: missing,
// unreadable or corrupt checkpoints.
var ErrCheckpointUnavailable = errors.New("checkpoint: unavailable")

// TrainingState is the resumable position of a run.
type TrainingState struct {
	Epoch     int `json:"epoch"`
	Iteration int `json:"iteration"`
	// RegimeKey is the regime key last applied to the optimizer.
	RegimeKey int `json:"regime_key"`
	// BestLoss is the lowest validation loss seen, nil before the first
	// evaluation.
	BestLoss *float64 `json:"best_loss,omitempty"`
	RunID    string   `json:"run_id"`
}

// Metadata describes how a checkpoint was produced.
type Metadata struct {
	Model      string                                  `json:"model"`
	Config     *config.RunConfig                       `json:"config,omitempty"`
	Tokenizers map[string]datasets.TokenizerDescriptor `json:"tokenizers,omitempty"`
	SavedAt    time.Time                               `json:"saved_at"`
}

// Checkpoint is everything needed to continue or evaluate a run.
type Checkpoint struct {
	State      TrainingState        `json:"state"`
	Parameters map[string][]float64 `json:"parameters"`
	Optimizer  *learning.State      `json:"optimizer,omitempty"`
	Metadata   Metadata             `json:"metadata"`
}

// Encode writes ckpt to w as zlib compressed JSON.
func Encode(w io.Writer, ckpt *Checkpoint) error {
	zw := zlib.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(ckpt); err != nil {
		zw.Close()
		return errors.Wrap(err, "checkpoint: encode")
	}
	return errors.Wrap(zw.Close(), "checkpoint: compress")
}

// Decode reads a checkpoint written by Encode.
func Decode(r io.Reader) (*Checkpoint, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: decompress")
	}
	defer zr.Close()
	var ckpt Checkpoint
	if err := json.NewDecoder(zr).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "checkpoint: decode")
	}
	return &ckpt, nil
}

// Manager saves and loads the checkpoints of one run directory.
type Manager struct {
	dir string
	log logr.Logger
}

// NewManager returns a manager writing into dir.
func NewManager(dir string, log logr.Logger) *Manager {
	return &Manager{dir: dir, log: log}
}

// Dir returns the run directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the path of the latest checkpoint.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// BestPath returns the path of the best model artifact.
func (m *Manager) BestPath() string {
	return filepath.Join(m.dir, BestFileName)
}

// Save writes ckpt as the latest checkpoint and, when isBest, as the best
// model artifact too. Each file is replaced atomically, so a reader sees either
// the previous or the new checkpoint.
func (m *Manager) Save(ckpt *Checkpoint, isBest bool) error {
	if ckpt.Metadata.SavedAt.IsZero() {
		ckpt.Metadata.SavedAt = time.Now().UTC()
	}
	var buf bytes.Buffer
	if err := Encode(&buf, ckpt); err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return errors.Wrap(err, "checkpoint: create run directory")
	}
	if err := WriteFileAtomic(m.Path(), buf.Bytes(), 0o644); err != nil {
		return err
	}
	if isBest {
		if err := WriteFileAtomic(m.BestPath(), buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	m.log.V(1).Info("saved checkpoint", "epoch", ckpt.State.Epoch, "iteration", ckpt.State.Iteration, "best", isBest, "bytes", buf.Len())
	return nil
}

// Load reads the checkpoint at path. A directory resolves to its best model
// artifact.
func (m *Manager) Load(path string) (*Checkpoint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrCheckpointUnavailable, "%s: %v", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, BestFileName)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrCheckpointUnavailable, "%s: %v", path, err)
	}
	defer f.Close()
	ckpt, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrCheckpointUnavailable, "%s: %v", path, err)
	}
	m.log.V(1).Info("loaded checkpoint", "path", path, "epoch", ckpt.State.Epoch, "iteration", ckpt.State.Iteration)
	return ckpt, nil
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it onto path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "checkpoint: create temporary file for %s", path)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrapf(err, "checkpoint: write %s", tmp.Name())
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return errors.Wrapf(err, "checkpoint: chmod %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, "checkpoint: sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "checkpoint: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "checkpoint: rename onto %s", path)
	}
	return nil
}

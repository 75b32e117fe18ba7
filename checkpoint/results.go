package checkpoint

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// ResultsFileName is the results log inside a run directory.
const ResultsFileName = "results.csv"

var resultsHeader = []string{"epoch", "iteration", "train_loss", "val_loss", "val_perplexity", "val_accuracy"}

// Result is one evaluation recorded in the results log.
type Result struct {
	Epoch         int
	Iteration     int
	TrainLoss     float64
	ValLoss       float64
	ValPerplexity float64
	ValAccuracy   float64
}

func (r Result) after(epoch, iteration int) bool {
	return r.Epoch > epoch || (r.Epoch == epoch && r.Iteration > iteration)
}

func (r Result) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		strconv.Itoa(r.Epoch), strconv.Itoa(r.Iteration),
		f(r.TrainLoss), f(r.ValLoss), f(r.ValPerplexity), f(r.ValAccuracy),
	}
}

func parseResult(rec []string) (r Result, err error) {
	if len(rec) != len(resultsHeader) {
		return r, errors.Errorf("want %d fields, got %d", len(resultsHeader), len(rec))
	}
	if r.Epoch, err = strconv.Atoi(rec[0]); err != nil {
		return r, err
	}
	if r.Iteration, err = strconv.Atoi(rec[1]); err != nil {
		return r, err
	}
	for i, dst := range []*float64{&r.TrainLoss, &r.ValLoss, &r.ValPerplexity, &r.ValAccuracy} {
		if *dst, err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return r, err
		}
	}
	return r, nil
}

// ResultsLog is the append-only results.csv of a run.
type ResultsLog struct {
	path string
	rows []Result
}

// NewResultsLog returns an empty log stored in dir.
func NewResultsLog(dir string) *ResultsLog {
	return &ResultsLog{path: filepath.Join(dir, ResultsFileName)}
}

// Path returns the file path.
func (l *ResultsLog) Path() string {
	return l.path
}

// Rows returns the recorded results in order.
func (l *ResultsLog) Rows() []Result {
	return append([]Result(nil), l.rows...)
}

// Load reads the rows already on disk. A missing file is an empty log.
func (l *ResultsLog) Load() error {
	rows, err := ReadResults(l.path)
	if err != nil {
		return err
	}
	l.rows = rows
	return nil
}

// ReadResults reads a results log. A missing file has no rows.
func ReadResults(path string) ([]Result, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "results: open")
	}
	defer f.Close()
	r := csv.NewReader(f)
	var rows []Result
	for line := 0; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "results: read %s", path)
		}
		if line == 0 && rec[0] == resultsHeader[0] {
			continue
		}
		row, err := parseResult(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "results: %s line %d", path, line+1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Append records res and appends it to the file.
func (l *ResultsLog) Append(res Result) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "results: create directory")
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "results: open")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "results: stat")
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		w.Write(resultsHeader)
	}
	w.Write(res.record())
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "results: write")
	}
	l.rows = append(l.rows, res)
	return nil
}

// Truncate drops the rows recorded after (epoch, iteration) and rewrites the
// file. It returns the number of rows dropped.
func (l *ResultsLog) Truncate(epoch, iteration int) (int, error) {
	kept := l.rows[:0:0]
	for _, r := range l.rows {
		if !r.after(epoch, iteration) {
			kept = append(kept, r)
		}
	}
	dropped := len(l.rows) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	if err := l.Replace(kept); err != nil {
		return 0, err
	}
	return dropped, nil
}

// Replace rewrites the log with rows.
func (l *ResultsLog) Replace(rows []Result) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(resultsHeader)
	for _, r := range rows {
		w.Write(r.record())
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "results: encode")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "results: create directory")
	}
	if err := WriteFileAtomic(l.path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	l.rows = append([]Result(nil), rows...)
	return nil
}

// Best returns the row with the lowest validation loss.
func (l *ResultsLog) Best() (Result, bool) {
	best, ok := Result{ValLoss: math.Inf(1)}, false
	for _, r := range l.rows {
		if r.ValLoss < best.ValLoss {
			best, ok = r, true
		}
	}
	return best, ok
}

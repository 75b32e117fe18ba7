package textpairs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
)

// Name is the registered dataset name.
const Name = "TextPairs"

func init() {
	datasets.Register(Name, Open)
}

// FileName returns the file holding split.
func FileName(split datasets.Split) string {
	return string(split) + ".tsv"
}

type pair struct {
	source, target string
}

// Dataset holds the raw text of both splits; examples are tokenized when
// the loader asks for them.
type Dataset struct {
	pairs   map[datasets.Split][]pair
	skipped map[datasets.Split]int
	src     *datasets.Vocab
	tgt     *datasets.Vocab
}

// Open is the datasets.Factory.
func Open(dir string, options *config.Mapping) (datasets.Dataset, error) {
	if err := datasets.CheckOptions(options, "tokenization", "num_symbols", "shared_vocab"); err != nil {
		return nil, err
	}
	kind, err := options.Text("tokenization", datasets.Word)
	if err != nil {
		return nil, err
	}
	if kind != datasets.Word && kind != datasets.Char {
		return nil, errors.Wrapf(config.ErrConfig, "%s: tokenization %q is not supported, use %q or %q",
			config.FragmentDataConfig, kind, datasets.Word, datasets.Char)
	}
	size, err := options.Int("num_symbols", 32000)
	if err != nil {
		return nil, err
	}
	shared, err := options.Bool("shared_vocab", true)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.Errorf("textpairs: --dataset_dir is required")
	}

	d := &Dataset{pairs: map[datasets.Split][]pair{}, skipped: map[datasets.Split]int{}}
	for _, split := range []datasets.Split{datasets.Train, datasets.Dev} {
		path := filepath.Join(dir, FileName(split))
		err := loop(path, func(src, tgt string) {
			d.pairs[split] = append(d.pairs[split], pair{source: src, target: tgt})
		}, func() {
			d.skipped[split]++
		})
		if err != nil {
			return nil, err
		}
	}

	var sources, targets []string
	for _, p := range d.pairs[datasets.Train] {
		sources = append(sources, p.source)
		targets = append(targets, p.target)
	}
	if shared {
		v, err := datasets.BuildVocab(kind, append(sources, targets...), size)
		if err != nil {
			return nil, err
		}
		d.src, d.tgt = v, v
		return d, nil
	}
	if d.src, err = datasets.BuildVocab(kind, sources, size); err != nil {
		return nil, err
	}
	if d.tgt, err = datasets.BuildVocab(kind, targets, size); err != nil {
		return nil, err
	}
	return d, nil
}

// loop calls do for every line with exactly two tab-separated columns, and
// skip for every other non-empty line.
func loop(path string, do func(src, tgt string), skip func()) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "textpairs")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		columns := strings.Split(line, "\t")
		if len(columns) != 2 {
			skip()
			continue
		}
		do(columns[0], columns[1])
	}
	return errors.Wrapf(scanner.Err(), "textpairs: read %s", path)
}

// Skipped returns the number of malformed lines ignored in split.
func (d *Dataset) Skipped(split datasets.Split) int {
	return d.skipped[split]
}

func (d *Dataset) Len(split datasets.Split) int {
	return len(d.pairs[split])
}

func (d *Dataset) Example(split datasets.Split, i int) (datasets.Example, error) {
	pairs := d.pairs[split]
	if i < 0 || i >= len(pairs) {
		return datasets.Example{}, errors.Errorf("textpairs: %s example %d out of range", split, i)
	}
	return datasets.Example{
		Source: d.src.Encode(pairs[i].source),
		Target: d.tgt.Encode(pairs[i].target),
	}, nil
}

func (d *Dataset) SourceTokenizer() datasets.Tokenizer { return d.src }
func (d *Dataset) TargetTokenizer() datasets.Tokenizer { return d.tgt }

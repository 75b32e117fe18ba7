package datasets

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Tokenization kinds.
const (
	Word = "word"
	Char = "char"
)

// Vocab is a frequency ranked vocabulary with word or character
// tokenization. The reserved tokens take the first ids.
type Vocab struct {
	kind  string
	words []string
	index map[string]int
}

// NewVocab returns a vocabulary of the given kind over words, which must start
// with SpecialTokens.
func NewVocab(kind string, words []string) (*Vocab, error) {
	if kind != Word && kind != Char {
		return nil, errors.Errorf("datasets: unsupported tokenization %q", kind)
	}
	if len(words) < len(SpecialTokens) {
		return nil, errors.Errorf("datasets: vocabulary of %d entries lacks the reserved tokens", len(words))
	}
	for i, s := range SpecialTokens {
		if words[i] != s {
			return nil, errors.Errorf("datasets: vocabulary entry %d is %q, want %q", i, words[i], s)
		}
	}
	v := &Vocab{kind: kind, words: words, index: make(map[string]int, len(words))}
	for i, w := range words {
		if _, dup := v.index[w]; dup {
			return nil, errors.Errorf("datasets: duplicate vocabulary entry %q", w)
		}
		v.index[w] = i
	}
	return v, nil
}

// VocabFromDescriptor restores a vocabulary saved with Descriptor.
func VocabFromDescriptor(d TokenizerDescriptor) (*Vocab, error) {
	return NewVocab(d.Kind, d.Vocab)
}

// BuildVocab ranks the tokens of texts by frequency, ties broken
// alphabetically, and keeps at most size entries including the reserved ones.
func BuildVocab(kind string, texts []string, size int) (*Vocab, error) {
	counts := map[string]int{}
	for _, text := range texts {
		for _, tok := range split(kind, text) {
			counts[tok]++
		}
	}
	for _, s := range SpecialTokens {
		delete(counts, s)
	}
	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if room := size - len(SpecialTokens); size > 0 && len(tokens) > room {
		if room < 0 {
			room = 0
		}
		tokens = tokens[:room]
	}
	return NewVocab(kind, append(append([]string(nil), SpecialTokens...), tokens...))
}

func split(kind, text string) []string {
	if kind == Char {
		runes := []rune(text)
		out := make([]string, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out
	}
	return strings.Fields(text)
}

// Encode maps text to ids. Unknown tokens become UNK.
func (v *Vocab) Encode(text string) []int {
	toks := split(v.kind, text)
	ids := make([]int, len(toks))
	for i, tok := range toks {
		id, ok := v.index[tok]
		if !ok {
			id = UNK
		}
		ids[i] = id
	}
	return ids
}

// Decode maps ids back to text, stopping at EOS and dropping PAD and BOS.
func (v *Vocab) Decode(ids []int) string {
	var toks []string
	for _, id := range ids {
		if id == EOS {
			break
		}
		if id == PAD || id == BOS {
			continue
		}
		if id < 0 || id >= len(v.words) {
			id = UNK
		}
		toks = append(toks, v.words[id])
	}
	if v.kind == Char {
		return strings.Join(toks, "")
	}
	return strings.Join(toks, " ")
}

// VocabSize returns the number of entries.
func (v *Vocab) VocabSize() int {
	return len(v.words)
}

// Descriptor returns the serializable form.
func (v *Vocab) Descriptor() TokenizerDescriptor {
	return TokenizerDescriptor{Kind: v.kind, Vocab: append([]string(nil), v.words...)}
}

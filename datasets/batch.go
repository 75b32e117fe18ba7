package datasets

import "sort"

// Batch is a group of examples processed by one iteration.
type Batch struct {
	// Index is the position of the batch within its epoch.
	Index int
	// Examples are ordered by decreasing source length when the loader packs
	// encoder inputs, otherwise in sampling order.
	Examples []Example
}

// Len returns the number of examples.
func (b Batch) Len() int {
	return len(b.Examples)
}

// Tokens returns the number of target tokens.
func (b Batch) Tokens() int {
	var n int
	for _, e := range b.Examples {
		n += len(e.Target)
	}
	return n
}

// SourceLengths returns the source length of every example.
func (b Batch) SourceLengths() []int {
	out := make([]int, len(b.Examples))
	for i, e := range b.Examples {
		out[i] = len(e.Source)
	}
	return out
}

// PaddedSource returns the sources as a rectangular matrix padded with PAD.
func (b Batch) PaddedSource() [][]int {
	return pad(b.Examples, func(e Example) []int { return e.Source })
}

// PaddedTarget returns the targets as a rectangular matrix padded with PAD.
func (b Batch) PaddedTarget() [][]int {
	return pad(b.Examples, func(e Example) []int { return e.Target })
}

func pad(examples []Example, seq func(Example) []int) [][]int {
	var width int
	for _, e := range examples {
		if n := len(seq(e)); n > width {
			width = n
		}
	}
	out := make([][]int, len(examples))
	for i, e := range examples {
		row := make([]int, width)
		copy(row, seq(e))
		out[i] = row
	}
	return out
}

func packBySourceLength(examples []Example) {
	sort.SliceStable(examples, func(i, j int) bool {
		return len(examples[i].Source) > len(examples[j].Source)
	})
}

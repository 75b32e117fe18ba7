// Package textpairs provides TextPairs, a parallel corpus read from
// tab-separated files: train.tsv and dev.tsv in the dataset directory, one
// "source<TAB>target" pair per line.
//
// Data options:
//
//	tokenization  'word' (default) or 'char'
//	num_symbols   vocabulary size including the reserved tokens (32000)
//	shared_vocab  one vocabulary for both sides (True)
package textpairs

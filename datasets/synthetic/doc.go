// Package synthetic provides SyntheticCopy, a generated dataset whose targets
// copy (or reverse) random source sequences. It needs no files and is used to
// smoke test training end to end.
package synthetic

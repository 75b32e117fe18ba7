// Package main provides the train_seq2seq command, which trains a sequence to
// sequence model on a registered dataset, periodically evaluating it and
// saving resumable checkpoints under <results_dir>/<save>.
//
// The same command evaluates a saved model on the validation split with
// --evaluate.
package main

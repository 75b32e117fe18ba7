// Package trainer orchestrates training: it advances a resumable
// epoch/iteration loop, applies optimization regime changes at epoch
// boundaries, and triggers progress reports, evaluation and checkpoints at
// their iteration cadences.
//
// Only the epoch and iteration survive a restart. A resumed run skips the
// batches of its epoch that were already consumed, so cadences and regime
// lookups line up with an uninterrupted run.
package trainer

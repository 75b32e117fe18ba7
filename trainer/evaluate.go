package trainer

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/checkpoint"
	"github.com/neurlang/seq2seq/datasets"
)

// maxPerplexityExponent keeps the perplexity of a diverged model finite.
const maxPerplexityExponent = 100

// Evaluation is the result of a full pass over a validation source.
type Evaluation struct {
	Loss       float64
	Perplexity float64
	Accuracy   float64
	Tokens     int
}

// Evaluate runs the model without gradients over every batch of val.
func (t *Trainer) Evaluate(ctx context.Context, val *datasets.Loader) (Evaluation, error) {
	if val == nil {
		return Evaluation{}, errors.New("trainer: no validation data")
	}
	it := val.Epoch(ctx, 0, 0)
	defer it.Close()

	var (
		loss    meter
		correct int
	)
	for {
		batch, err := it.Next(ctx)
		if errors.Is(err, datasets.ErrExhausted) {
			break
		}
		if err != nil {
			return Evaluation{}, errors.Wrap(err, "trainer: evaluate")
		}
		res, err := t.opts.Model.Forward(batch, false)
		if err != nil {
			return Evaluation{}, errors.Wrapf(err, "trainer: evaluate batch %d", batch.Index)
		}
		loss.add(res.Loss, res.Tokens)
		correct += res.Correct
	}
	if loss.tokens == 0 {
		return Evaluation{}, errors.New("trainer: validation data has no target tokens")
	}
	if !finite(loss.mean()) {
		return Evaluation{}, errors.Wrapf(ErrNumericInstability, "validation loss is %v", loss.mean())
	}
	ev := Evaluation{
		Loss:     loss.mean(),
		Accuracy: float64(correct) / float64(loss.tokens),
		Tokens:   loss.tokens,
	}
	ev.Perplexity = math.Exp(math.Min(ev.Loss, maxPerplexityExponent))
	return ev, nil
}

// evaluateAndRecord evaluates, logs the outcome and appends it to the results
// log. A failed evaluation is logged and skipped.
func (t *Trainer) evaluateAndRecord(ctx context.Context, val *datasets.Loader) {
	ev, err := t.Evaluate(ctx, val)
	if err != nil {
		t.metrics.EvaluationFailures.Inc()
		t.log.Error(err, "evaluation skipped", "epoch", t.state.Epoch, "iteration", t.state.Iteration)
		return
	}
	t.lastEval = &ev
	t.metrics.Validation.WithLabelValues("loss").Set(ev.Loss)
	t.metrics.Validation.WithLabelValues("perplexity").Set(ev.Perplexity)
	t.metrics.Validation.WithLabelValues("accuracy").Set(ev.Accuracy)
	t.log.Info("validation",
		"epoch", t.state.Epoch,
		"iteration", t.state.Iteration,
		"loss", ev.Loss,
		"perplexity", ev.Perplexity,
		"accuracy", ev.Accuracy,
		"tokens", ev.Tokens,
	)

	row := checkpoint.Result{
		Epoch:         t.state.Epoch,
		Iteration:     t.state.Iteration,
		TrainLoss:     t.sinceEval.mean(),
		ValLoss:       ev.Loss,
		ValPerplexity: ev.Perplexity,
		ValAccuracy:   ev.Accuracy,
	}
	t.sinceEval.reset()
	if t.opts.Results == nil {
		return
	}
	if err := t.opts.Results.Append(row); err != nil {
		t.log.Error(err, "results row not written", "path", t.opts.Results.Path())
	}
}

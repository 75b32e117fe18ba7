package trainer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by a Trainer.
type Metrics struct {
	Iterations         prometheus.Counter
	Epoch              prometheus.Gauge
	TrainLoss          prometheus.Gauge
	LearningRate       prometheus.Gauge
	GradNorm           prometheus.Gauge
	Validation         *prometheus.GaugeVec
	Instabilities      prometheus.Counter
	EvaluationFailures prometheus.Counter
	Checkpoints        *prometheus.CounterVec
	BatchWait          prometheus.Histogram
}

// NewMetrics builds the collectors and registers them with reg unless reg is
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seq2seq_iterations_total",
			Help: "Training iterations run by this process",
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seq2seq_epoch",
			Help: "Current training epoch",
		}),
		TrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seq2seq_train_loss",
			Help: "Per token loss of the last training batch",
		}),
		LearningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seq2seq_learning_rate",
			Help: "Learning rate in force",
		}),
		GradNorm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seq2seq_grad_norm",
			Help: "Global gradient norm of the last step before clipping",
		}),
		Validation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seq2seq_validation",
			Help: "Result of the last evaluation",
		}, []string{"metric"}),
		Instabilities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seq2seq_numeric_instabilities_total",
			Help: "Optimizer steps skipped for a non-finite loss or gradient norm",
		}),
		EvaluationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seq2seq_evaluation_failures_total",
			Help: "Evaluations that failed and were skipped",
		}),
		Checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seq2seq_checkpoints_total",
			Help: "Checkpoints written, by artifact",
		}, []string{"artifact"}),
		BatchWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seq2seq_batch_wait_seconds",
			Help:    "Time spent waiting for the next training batch",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Iterations, m.Epoch, m.TrainLoss, m.LearningRate, m.GradNorm, m.Validation,
			m.Instabilities, m.EvaluationFailures, m.Checkpoints, m.BatchWait,
		)
	}
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes training and serving metrics through Prometheus.
type Recorder struct {
	instruments  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	sharpe       *prometheus.GaugeVec
	tuningTrials prometheus.Counter
	predictions  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		instruments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_instruments_total",
				Help: "Instruments processed by the batch trainer, by outcome",
			},
			[]string{"status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantlab_training_duration_seconds",
				Help:    "Wall time of one instrument training run",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"family"},
		),
		sharpe: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantlab_model_sharpe",
				Help: "Test-split Sharpe ratio of the latest trained model",
			},
			[]string{"instrument", "family"},
		),
		tuningTrials: f.NewCounter(
			prometheus.CounterOpts{
				Name: "quantlab_tuning_trials_total",
				Help: "Hyperparameter tuning trials evaluated",
			},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantlab_predictions_total",
				Help: "Prediction requests served, by model family",
			},
			[]string{"family"},
		),
	}
}

// Nop returns a recorder backed by a private registry.
func Nop() *Recorder {
	return New(prometheus.NewRegistry())
}

func (r *Recorder) RecordInstrument(status string) {
	if r == nil {
		return
	}
	r.instruments.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordTrainingDuration(family string, seconds float64) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(family).Observe(seconds)
}

func (r *Recorder) RecordSharpe(instrument, family string, sharpe float64) {
	if r == nil {
		return
	}
	r.sharpe.WithLabelValues(instrument, family).Set(sharpe)
}

func (r *Recorder) RecordTuningTrial() {
	if r == nil {
		return
	}
	r.tuningTrials.Inc()
}

func (r *Recorder) RecordPrediction(family string) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(family).Inc()
}

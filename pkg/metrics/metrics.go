// Package metrics exports rollout counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vecenv"

// Recorder holds the rollout metrics, all labelled by environment name.
type Recorder struct {
	StepsTotal    *prometheus.CounterVec
	EpisodesTotal *prometheus.CounterVec
	EpisodeReturn *prometheus.HistogramVec
	StepDuration  *prometheus.HistogramVec
	ErrorsTotal   *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewRecorder registers the rollout metrics on reg. When live is non-nil a
// gauge reports its value on every scrape.
func NewRecorder(reg *prometheus.Registry, live func() int) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Batched steps completed, counting each instance once per step.",
		}, []string{"env"}),
		EpisodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Episodes finished across all instances.",
		}, []string{"env"}),
		EpisodeReturn: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_return",
			Help:      "Undiscounted return of finished episodes.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 1000, 10000, 100000},
		}, []string{"env"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one batched act, begin and await cycle.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"env"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Rollouts stopped by an error, by error class.",
		}, []string{"env", "class"}),
		gatherer: reg,
	}
	if live != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_instance_sets",
			Help:      "Instance sets made and not yet closed.",
		}, func() float64 { return float64(live()) })
	}
	return r
}

// ObserveStep records one batched step of n instances.
func (r *Recorder) ObserveStep(env string, n int, d time.Duration) {
	r.StepsTotal.WithLabelValues(env).Add(float64(n))
	r.StepDuration.WithLabelValues(env).Observe(d.Seconds())
}

// ObserveEpisode records one finished episode.
func (r *Recorder) ObserveEpisode(env string, ret float64) {
	r.EpisodesTotal.WithLabelValues(env).Inc()
	r.EpisodeReturn.WithLabelValues(env).Observe(ret)
}

// ObserveError records a rollout stopped by an error of class.
func (r *Recorder) ObserveError(env, class string) {
	r.ErrorsTotal.WithLabelValues(env, class).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

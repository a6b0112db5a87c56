package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg           *prom.Registry
	rowOutcomes   *prom.CounterVec
	jobDuration   prom.Histogram
	jobOutcomes   *prom.CounterVec
	invalidations *prom.CounterVec
}

// NewPrometheusRecorder registers the pagegen metrics on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		rowOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pagegen",
			Name:      "row_outcomes_total",
			Help:      "Processed rows by outcome",
		}, []string{"action"}),
		jobDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "pagegen",
			Name:      "job_duration_seconds",
			Help:      "Wall time of generation jobs",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 12),
		}),
		jobOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pagegen",
			Name:      "job_outcomes_total",
			Help:      "Finished jobs by terminal status",
		}, []string{"status"}),
		invalidations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pagegen",
			Name:      "cache_invalidations_total",
			Help:      "Cache invalidation calls by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.rowOutcomes, pr.jobDuration, pr.jobOutcomes, pr.invalidations)
	return pr
}

// Handler serves the recorder's registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) IncRowOutcome(action string) {
	if p == nil {
		return
	}
	p.rowOutcomes.WithLabelValues(action).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(status string) {
	if p == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncInvalidation(success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.invalidations.WithLabelValues(res).Inc()
}

// Package metrics exposes comparison activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"visualdiff/internal/core/domain"
)

const (
	namespace = "visualdiff"
	subsystem = "compare"
)

// Page outcomes.
const (
	OutcomeMatch   = "match"
	OutcomeChanged = "changed"
	OutcomeError   = "error"
)

// Collector records page and job events. It satisfies service.Observer.
type Collector struct {
	jobsTotal      prometheus.Counter
	jobIssues      prometheus.Counter
	pagesTotal     *prometheus.CounterVec
	pageDuration   prometheus.Histogram
	jobDuration    prometheus.Histogram
	lastDifference *prometheus.GaugeVec
}

// New creates a Collector and registers it with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_completed_total",
			Help:      "Total number of completed comparison jobs.",
		}),
		jobIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "issues_total",
			Help:      "Total number of flagged pages across completed jobs.",
		}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pages_total",
			Help:      "Count of compared pages grouped by outcome.",
		}, []string{"outcome"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "page_duration_seconds",
			Help:      "Time to render both sides of a page and diff them.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a full job execution.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastDifference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_difference_percentage",
			Help:      "Difference percentage of the most recent comparison of each page.",
		}, []string{"path"}),
	}
	for _, outcome := range []string{OutcomeMatch, OutcomeChanged, OutcomeError} {
		c.pagesTotal.WithLabelValues(outcome)
	}
	if reg != nil {
		reg.MustRegister(c.jobsTotal, c.jobIssues, c.pagesTotal, c.pageDuration, c.jobDuration, c.lastDifference)
	}
	return c
}

// PageCompared records one page result.
func (c *Collector) PageCompared(result domain.PageResult, elapsed time.Duration) {
	c.pagesTotal.WithLabelValues(Outcome(result)).Inc()
	c.pageDuration.Observe(elapsed.Seconds())
	if !result.Failed() {
		c.lastDifference.WithLabelValues(result.Path).Set(result.DifferencePercentage)
	}
}

// JobCompleted records a finished job.
func (c *Collector) JobCompleted(job *domain.Job, elapsed time.Duration) {
	c.jobsTotal.Inc()
	c.jobIssues.Add(float64(len(job.Issues())))
	c.jobDuration.Observe(elapsed.Seconds())
}

// Outcome classifies a page result.
func Outcome(r domain.PageResult) string {
	switch {
	case r.Failed():
		return OutcomeError
	case r.HasDifference:
		return OutcomeChanged
	default:
		return OutcomeMatch
	}
}

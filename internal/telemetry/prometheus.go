package telemetry

import (
	"net/http"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordCounter reports live record counts.
type RecordCounter interface {
	Scopes() ([]string, error)
	Count(scope string, kinds ...record.Kind) (int, error)
}

// Registry holds the Prometheus metrics served on /metrics.
type Registry struct {
	reg  *prometheus.Registry
	jobs *prometheus.CounterVec
}

// NewRegistry creates a registry with the Go runtime and process
// collectors, the background job counter and, when records is non-nil, a
// live record gauge read from the store at scrape time.
func NewRegistry(records RecordCounter) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if records != nil {
		reg.MustRegister(newRecordCollector(records))
	}

	// Labels: job, outcome (success, error, timeout, panic, dropped)
	jobs := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Name:      "background_jobs_total",
			Help:      "Background jobs by outcome",
		},
		[]string{"job", "outcome"},
	)
	return &Registry{reg: reg, jobs: jobs}
}

// JobOutcome counts one finished or dropped job. It matches the worker
// pool's outcome hook.
func (r *Registry) JobOutcome(job tasks.Job, outcome string) {
	r.jobs.WithLabelValues(job.Name, outcome).Inc()
}

// Gatherer exposes the registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

type recordCollector struct {
	store RecordCounter
	desc  *prometheus.Desc
}

func newRecordCollector(store RecordCounter) *recordCollector {
	return &recordCollector{
		store: store,
		desc: prometheus.NewDesc(
			"memoryd_records",
			"Live records per scope and kind",
			[]string{"scope", "kind"}, nil,
		),
	}
}

func (c *recordCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *recordCollector) Collect(ch chan<- prometheus.Metric) {
	scopes, err := c.store.Scopes()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, scope := range scopes {
		for _, kind := range record.AllKinds {
			n, err := c.store.Count(scope, kind)
			if err != nil {
				ch <- prometheus.NewInvalidMetric(c.desc, err)
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), scope, string(kind))
		}
	}
}

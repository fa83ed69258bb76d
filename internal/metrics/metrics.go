// Package metrics exposes Prometheus metrics for pipeline runs and the
// HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

// Provider owns a private registry and the collectors recorded into it.
type Provider struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	cells         prometheus.Gauge
	requests      *prometheus.CounterVec
	cacheResults  *prometheus.CounterVec
}

// New builds a Provider. Process and Go runtime collectors are included
// when withRuntime is set.
func New(withRuntime bool) *Provider {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	p := &Provider{
		reg: reg,
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drastic_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"stage", "status"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drastic_runs_total",
				Help: "Pipeline runs by final status.",
			},
			[]string{"status"},
		),
		cells: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drastic_output_cells",
			Help: "Cell count of the most recent vulnerability index.",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drastic_http_requests_total",
				Help: "HTTP API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		cacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drastic_stats_cache_total",
				Help: "Layer statistics cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(p.stageDuration, p.runs, p.cells, p.requests, p.cacheResults)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the text exposition format,
// for node_exporter's textfile collector. The file is replaced atomically.
func (p *Provider) WriteTextfile(path string) error {
	if p == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, p.reg); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}

// ObserveStage records how long one stage took.
func (p *Provider) ObserveStage(stage, status string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// RunFinished counts a run by its final status.
func (p *Provider) RunFinished(status string) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(status).Inc()
}

// OutputCells records the size of the latest index raster.
func (p *Provider) OutputCells(n int) {
	if p == nil {
		return
	}
	p.cells.Set(float64(n))
}

// Request counts one API request.
func (p *Provider) Request(route, code string) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(route, code).Inc()
}

// CacheResult counts a stats cache hit or miss.
func (p *Provider) CacheResult(hit bool) {
	if p == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	p.cacheResults.WithLabelValues(outcome).Inc()
}

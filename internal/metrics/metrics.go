// Package metrics exposes Prometheus metrics for the engine and the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider struct {
	reg *prometheus.Registry

	AggregateReads      prometheus.Counter
	AggregateCandidates *prometheus.CounterVec
	TilesRead           *prometheus.CounterVec
	TilesWritten        *prometheus.CounterVec
	TileCache           *prometheus.CounterVec
	StoreOpSeconds      *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
}

// Init creates a registry with Go/process collectors and the engine metrics.
func Init(version string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if version == "" {
		version = "dev"
	}
	f := promauto.With(reg)
	f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rasterpyramid_build_info",
		Help: "Build info for this binary (value is always 1).",
	}, []string{"version"}).WithLabelValues(version).Set(1)

	return &Provider{
		reg: reg,
		AggregateReads: f.NewCounter(prometheus.CounterOpts{
			Name: "rasterpyramid_aggregate_reads_total",
			Help: "Aggregated reads served.",
		}),
		AggregateCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterpyramid_aggregate_candidates_total",
			Help: "Aggregation candidates by outcome (used, skipped, disjoint, short_circuit).",
		}, []string{"outcome"}),
		TilesRead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterpyramid_tiles_read_total",
			Help: "Tiles read by result (hit, missing).",
		}, []string{"result"}),
		TilesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterpyramid_tiles_written_total",
			Help: "Tiles written per pyramid.",
		}, []string{"pyramid"}),
		TileCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterpyramid_tile_cache_total",
			Help: "Decoded tile cache lookups by result (hit, miss).",
		}, []string{"result"}),
		StoreOpSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rasterpyramid_store_op_seconds",
			Help:    "Tile store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"backend", "op"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterpyramid_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Gatherer() prometheus.Gatherer { return p.reg }

// Candidate counts an aggregation candidate outcome. Safe on a nil Provider.
func (p *Provider) Candidate(outcome string) {
	if p == nil {
		return
	}
	p.AggregateCandidates.WithLabelValues(outcome).Inc()
}

// AggregateRead counts a served aggregated read. Safe on a nil Provider.
func (p *Provider) AggregateRead() {
	if p == nil {
		return
	}
	p.AggregateReads.Inc()
}

// TileRead counts a tile lookup. Safe on a nil Provider.
func (p *Provider) TileRead(found bool) {
	if p == nil {
		return
	}
	if found {
		p.TilesRead.WithLabelValues("hit").Inc()
		return
	}
	p.TilesRead.WithLabelValues("missing").Inc()
}

// TileWritten counts a persisted tile. Safe on a nil Provider.
func (p *Provider) TileWritten(pyramid string) {
	if p == nil {
		return
	}
	p.TilesWritten.WithLabelValues(pyramid).Inc()
}

// CacheLookup counts a tile cache lookup. Safe on a nil Provider.
func (p *Provider) CacheLookup(hit bool) {
	if p == nil {
		return
	}
	if hit {
		p.TileCache.WithLabelValues("hit").Inc()
		return
	}
	p.TileCache.WithLabelValues("miss").Inc()
}

// ObserveStore records the latency of a store operation started at t0.
// Safe on a nil Provider.
func (p *Provider) ObserveStore(backend, op string, t0 time.Time) {
	if p == nil {
		return
	}
	p.StoreOpSeconds.WithLabelValues(backend, op).Observe(time.Since(t0).Seconds())
}

// HTTPRequest counts a served request. Safe on a nil Provider.
func (p *Provider) HTTPRequest(route string, code int) {
	if p == nil {
		return
	}
	p.HTTPRequests.WithLabelValues(route, http.StatusText(code)).Inc()
}

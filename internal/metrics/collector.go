// Package metrics holds the prometheus collectors for ingestion, retrieval, routing
// and calls to external services. A nil *Collector records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	papersIngested   prometheus.Counter
	vectorsUpserted  prometheus.Counter
	ingestDuration   prometheus.Histogram
	retrievalLatency prometheus.Histogram
	retrievalMatches prometheus.Histogram
	routeDecisions   *prometheus.CounterVec
	rewriteOutcomes  *prometheus.CounterVec
	diagramOutcomes  *prometheus.CounterVec
	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		papersIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_ingested_total",
			Help:      "Papers ingested into the hybrid index",
		}),
		vectorsUpserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_upserted_total",
			Help:      "Hybrid vector records written",
		}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to embed, encode and write one paper",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		retrievalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval latency",
			Buckets:   prometheus.DefBuckets,
		}),
		retrievalMatches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_matches",
			Help:      "Matches with usable text per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		routeDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Tool router decisions by action",
		}, []string{"action"}),
		rewriteOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_outcomes_total",
			Help:      "Diagram query rewrite gate outcomes",
		}, []string{"outcome"}),
		diagramOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagram_outcomes_total",
			Help:      "Diagram pipeline outcomes (ok, empty, render_rejected)",
		}, []string{"outcome"}),
		externalCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external services by result",
		}, []string{"service", "result"}),
		externalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "External service call latency",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"service"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordIngest(vectors int, d time.Duration) {
	if c == nil {
		return
	}
	c.papersIngested.Inc()
	c.vectorsUpserted.Add(float64(vectors))
	c.ingestDuration.Observe(d.Seconds())
}

func (c *Collector) RecordRetrieval(matches int, d time.Duration) {
	if c == nil {
		return
	}
	c.retrievalMatches.Observe(float64(matches))
	c.retrievalLatency.Observe(d.Seconds())
}

func (c *Collector) RecordRoute(action string) {
	if c == nil {
		return
	}
	c.routeDecisions.WithLabelValues(action).Inc()
}

func (c *Collector) RecordRewrite(outcome string) {
	if c == nil {
		return
	}
	c.rewriteOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordDiagram(outcome string) {
	if c == nil {
		return
	}
	c.diagramOutcomes.WithLabelValues(outcome).Inc()
}

// RecordExternal tracks one call to service; err decides the result label.
func (c *Collector) RecordExternal(service string, start time.Time, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.externalCalls.WithLabelValues(service, result).Inc()
	c.externalDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

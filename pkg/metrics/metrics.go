// Package metrics exports execution metrics in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/router"
)

// Collector holds the supervisor's Prometheus metrics. It is a graph
// observer, so attaching it to a graph is all the wiring it needs.
type Collector struct {
	registry *prometheus.Registry

	Passes           *prometheus.CounterVec
	PassDuration     prometheus.Histogram
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	NodeFailures     *prometheus.CounterVec
	ActiveEdges      prometheus.Gauge
	CycleNodes       prometheus.Gauge
}

// NewCollector creates a collector with its own registry. Every metric name
// is prefixed with namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Execution passes by outcome",
			},
			[]string{"outcome"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Wall-clock duration of execution passes",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Messages delivered along edges by result",
			},
			[]string{"result"},
		),
		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time a target node spent handling a delivered message",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		NodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_failures_total",
				Help:      "Failed deliveries by target node",
			},
			[]string{"node"},
		),
		ActiveEdges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_edges",
				Help:      "Edges left active by the last pass",
			},
		),
		CycleNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cycle_nodes",
				Help:      "Nodes taking part in a cycle at the last pass",
			},
		),
	}

	registry.MustRegister(
		c.Passes,
		c.PassDuration,
		c.Deliveries,
		c.DeliveryDuration,
		c.NodeFailures,
		c.ActiveEdges,
		c.CycleNodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// OnPass records a finished or aborted pass.
func (c *Collector) OnPass(report graph.PassReport) {
	c.Passes.WithLabelValues(string(report.Outcome)).Inc()
	c.PassDuration.Observe(report.Duration.Seconds())

	active := 0
	for _, on := range report.Active {
		if on {
			active++
		}
	}
	c.ActiveEdges.Set(float64(active))

	members := 0
	for _, cy := range report.Cycles {
		members += len(cy.Nodes)
	}
	c.CycleNodes.Set(float64(members))
}

// OnDelivery records one routed message.
func (c *Collector) OnDelivery(d router.Delivery) {
	c.DeliveryDuration.Observe(d.Duration.Seconds())
	if d.Failed() {
		c.Deliveries.WithLabelValues("error").Inc()
		c.NodeFailures.WithLabelValues(d.To).Inc()
		return
	}
	c.Deliveries.WithLabelValues("ok").Inc()
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

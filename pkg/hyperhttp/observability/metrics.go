// Package observability provides ready-made Tracer/Metrics hook
// implementations so callers don't have to write their own just to get
// Prometheus counters/histograms and structured logs out of a Client.
package observability

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector implements hyperhttp.Metrics on top of a
// CounterVec/HistogramVec pair registered under a caller-chosen
// namespace. Grounded on the go.mod pairing nabbar-golib establishes for
// this concern (prometheus/client_golang registered at construction time,
// not lazily per metric name).
type PrometheusCollector struct {
	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
}

// NewPrometheusCollector registers its vectors against reg and returns a
// collector ready to back a Client's Metrics hook. namespace prefixes
// both vector names (e.g. "hyperhttp_events_total"); the hook's metric
// name is carried in the "metric" label.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Count of hyperhttp client events, partitioned by metric name and caller-supplied labels.",
	}, []string{"metric", "label"})

	histograms := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_duration",
		Help:      "Observed values for hyperhttp client histogram events, partitioned by metric name and caller-supplied labels.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"metric", "label"})

	reg.MustRegister(counters, histograms)

	return &PrometheusCollector{counters: counters, histograms: histograms}
}

// IncCounter implements hyperhttp.Metrics. All labels are joined with ","
// into the single "label" dimension so callers passing extra context
// don't panic a fixed-arity vector.
func (p *PrometheusCollector) IncCounter(name string, delta float64, labels ...string) {
	p.counters.WithLabelValues(name, joinLabels(labels)).Add(delta)
}

// ObserveHistogram implements hyperhttp.Metrics.
func (p *PrometheusCollector) ObserveHistogram(name string, value float64, labels ...string) {
	p.histograms.WithLabelValues(name, joinLabels(labels)).Observe(value)
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	out := labels[0]
	for _, l := range labels[1:] {
		out += "," + l
	}
	return out
}

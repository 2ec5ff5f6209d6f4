package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollectorIncCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, "hyperhttp_test")

	c.IncCounter("requests_total", 1, "example.com")
	c.IncCounter("requests_total", 2, "example.com")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.Metric
	for _, f := range families {
		if f.GetName() != "hyperhttp_test_events_total" {
			continue
		}
		for _, m := range f.Metric {
			found = m
		}
	}
	require.NotNil(t, found, "expected counter metric to be registered")
	require.Equal(t, float64(3), found.GetCounter().GetValue())
}

func TestPrometheusCollectorObserveHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, "hyperhttp_test")

	c.ObserveHistogram("pool_wait_nanos", 0.5)
	c.ObserveHistogram("pool_wait_nanos", 1.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.Metric
	for _, f := range families {
		if f.GetName() != "hyperhttp_test_event_duration" {
			continue
		}
		for _, m := range f.Metric {
			found = m
		}
	}
	require.NotNil(t, found, "expected histogram metric to be registered")
	require.Equal(t, uint64(2), found.GetHistogram().GetSampleCount())
}

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))

	m.Discarded.WithLabelValues("truncated").Inc()
	m.Discarded.WithLabelValues("truncated").Inc()
	m.Events.WithLabelValues("icmp").Inc()
	m.ActiveFlows.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Discarded.WithLabelValues("truncated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveFlows))

	expected := `
# HELP ns_sensor_events_total Total number of classification events emitted
# TYPE ns_sensor_events_total counter
ns_sensor_events_total{kind="icmp"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ns_sensor_events_total"))

	assert.Error(t, m.Register(reg))
}

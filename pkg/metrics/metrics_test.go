package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_RegistersOnce(t *testing.T) {
	first := NewMetrics()
	second := NewMetrics()

	assert.Same(t, first, second)
}

func TestNewMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("completed"))
	m.ExecutionsTotal.WithLabelValues("completed").Inc()

	assert.InDelta(t, before+1, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("completed")), 0.0001)
}

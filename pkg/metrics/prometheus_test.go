package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip/dpjob/pkg/jobx"
)

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.MessageReceived("orders")
	m.MessageReceived("orders")
	m.Outcome("orders", jobx.Ack)
	m.Outcome("orders", jobx.DeadLetter)
	m.HandlerFailed("orders")
	m.TransportFailed("orders", "delete")
	m.HandlerDuration("orders", 20*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.received.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "ack")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "dead_letter")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "retry_later")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handlerFailures.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transportErrors.WithLabelValues("orders", "delete")))

	n, err := testutil.GatherAndCount(reg, "dpjob_handler_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheusDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg)
	assert.Panics(t, func() { NewPrometheus(reg) })
}

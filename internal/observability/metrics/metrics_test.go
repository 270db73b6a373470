package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDispatchMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)
	m.ObserveAttempt("list")
	m.ObserveAttempt("list")
	m.ObserveSend("list", "ok", 0.2)
	m.ObserveFallback(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendTotal.WithLabelValues("list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackTotal.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sendLatency))
}

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTransition("NEW", "BROWSING_CATEGORIES")
	m.ObserveTransition("VIEWING_MACHINES", "VIEWING_MACHINES")
	m.ObserveLead("INTERESTED", true)
	m.ObserveEscalation()
	m.ObserveInbound("category")

	assert.Equal(t, 1, testutil.CollectAndCount(m.transitionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leadsTotal.WithLabelValues("INTERESTED", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inboundTotal.WithLabelValues("category")))
}

func TestMetricsNilSafe(t *testing.T) {
	var d *DispatchMetrics
	d.ObserveSend("text", "ok", 0.1)
	d.ObserveAttempt("text")
	d.ObserveFallback(true)

	var c *ConversationMetrics
	c.ObserveTransition("NEW", "WELCOMED")
	c.ObserveLead("INTERESTED", false)
	c.ObserveEscalation()
	c.ObserveInbound("free_text")

	var j *JobMetrics
	j.ObserveJob("completed", 1)
}

func TestJobMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.ObserveJob("completed", 0.4)
	m.ObserveJob("failed", 2)
	m.ObserveJob("duplicate", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

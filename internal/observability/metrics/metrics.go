package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "leadbot"

// DispatchMetrics exposes counters/histograms for outbound WhatsApp sends.
type DispatchMetrics struct {
	sendTotal     *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_total",
			Help:      "Total dispatcher sends by payload kind and final outcome",
		}, []string{"kind", "outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Total transport attempts by payload kind",
		}, []string{"kind"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "template_fallback_total",
			Help:      "Template fallbacks after an expired messaging window",
		}, []string{"result"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_latency_seconds",
			Help:      "Latency of a dispatcher send including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendTotal, m.attemptsTotal, m.fallbackTotal, m.sendLatency)
	return m
}

func (m *DispatchMetrics) ObserveSend(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(kind, outcome).Inc()
	m.sendLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *DispatchMetrics) ObserveAttempt(kind string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(kind).Inc()
}

func (m *DispatchMetrics) ObserveFallback(delivered bool) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.fallbackTotal.WithLabelValues(result).Inc()
}

// ConversationMetrics tracks state machine activity and lead conversion.
type ConversationMetrics struct {
	transitionsTotal *prometheus.CounterVec
	leadsTotal       *prometheus.CounterVec
	escalationsTotal prometheus.Counter
	inboundTotal     *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "leads_total",
			Help:      "Leads produced by conversion",
		}, []string{"decision", "created"}),
		escalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "escalations_total",
			Help:      "Conversations that could not reach the recipient even through the template fallback",
		}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Inbound events by routed kind",
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.leadsTotal, m.escalationsTotal, m.inboundTotal)
	return m
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *ConversationMetrics) ObserveLead(decision string, created bool) {
	if m == nil {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	m.leadsTotal.WithLabelValues(decision, label).Inc()
}

func (m *ConversationMetrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

func (m *ConversationMetrics) ObserveInbound(route string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(route).Inc()
}

// JobMetrics tracks asynchronous start jobs consumed by the notification worker.
type JobMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration prometheus.Histogram
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Start jobs by final status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one start job including dispatch retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.jobDuration)
	return m
}

func (m *JobMetrics) ObserveJob(status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	if status != "duplicate" && status != "malformed" {
		m.jobDuration.Observe(seconds)
	}
}

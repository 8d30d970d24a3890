package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "hitl"

// HandoffMetrics tracks routing decisions made by the handoff engine.
type HandoffMetrics struct {
	decisionsTotal *prometheus.CounterVec
	latency        prometheus.Histogram
	rulesEvaluated prometheus.Histogram
	outcomesTotal  *prometheus.CounterVec
}

func NewHandoffMetrics(reg prometheus.Registerer) *HandoffMetrics {
	m := &HandoffMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "decisions_total",
			Help:      "Handoff decisions by outcome and target agent",
		}, []string{"should_handoff", "target_agent"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "decision_latency_seconds",
			Help:      "Time spent evaluating handoff rules",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05},
		}),
		rulesEvaluated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "rules_evaluated",
			Help:      "Number of rules considered per decision",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "labeled_outcomes_total",
			Help:      "Ground-truth labels attached to recorded decisions",
		}, []string{"correct"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal, m.latency, m.rulesEvaluated, m.outcomesTotal)
	return m
}

func (m *HandoffMetrics) ObserveDecision(shouldHandoff bool, targetAgent string, seconds float64, rulesEvaluated int) {
	if m == nil {
		return
	}
	if targetAgent == "" {
		targetAgent = "none"
	}
	m.decisionsTotal.WithLabelValues(boolLabel(shouldHandoff), targetAgent).Inc()
	m.latency.Observe(seconds)
	m.rulesEvaluated.Observe(float64(rulesEvaluated))
}

func (m *HandoffMetrics) ObserveOutcome(correct bool) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(boolLabel(correct)).Inc()
}

// ApprovalMetrics counts state machine transitions and rejected gates.
type ApprovalMetrics struct {
	transitionsTotal *prometheus.CounterVec
	gateFailures     *prometheus.CounterVec
}

func NewApprovalMetrics(reg prometheus.Registerer) *ApprovalMetrics {
	m := &ApprovalMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "transitions_total",
			Help:      "Approval transitions by event and resulting state",
		}, []string{"kind", "event", "to"}),
		gateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "gate_failures_total",
			Help:      "Approve attempts blocked by the evidence gate",
		}, []string{"failure"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.gateFailures)
	return m
}

func (m *ApprovalMetrics) ObserveTransition(kind, event, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(kind, event, to).Inc()
}

func (m *ApprovalMetrics) ObserveGateFailure(failure string) {
	if m == nil {
		return
	}
	m.gateFailures.WithLabelValues(failure).Inc()
}

// LearningMetrics tracks captured edit signals.
type LearningMetrics struct {
	signalsTotal *prometheus.CounterVec
	editRatio    prometheus.Histogram
	persistTotal *prometheus.CounterVec
}

func NewLearningMetrics(reg prometheus.Registerer) *LearningMetrics {
	m := &LearningMetrics{
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "signals_total",
			Help:      "Captured learning signals by edit type and approval",
		}, []string{"edit_type", "approved"}),
		editRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "edit_ratio",
			Help:      "Edit distance normalized by the longer reply",
			Buckets:   []float64{0, .05, .1, .2, .3, .45, .6, .8, 1},
		}),
		persistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "persist_total",
			Help:      "Learning signal persistence attempts",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.signalsTotal, m.editRatio, m.persistTotal)
	return m
}

func (m *LearningMetrics) ObserveSignal(editType string, approved bool, ratio float64) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(editType, boolLabel(approved)).Inc()
	m.editRatio.Observe(ratio)
}

func (m *LearningMetrics) ObservePersist(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.persistTotal.WithLabelValues(status).Inc()
}

// FlowMetrics covers the draft and approval orchestration flows.
type FlowMetrics struct {
	stepsTotal *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewFlowMetrics(reg prometheus.Registerer) *FlowMetrics {
	m := &FlowMetrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "results_total",
			Help:      "Flow results by flow name, terminal step and outcome",
		}, []string{"flow", "step", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "duration_seconds",
			Help:      "End-to-end flow latency including collaborator calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepsTotal, m.duration)
	return m
}

func (m *FlowMetrics) ObserveResult(flow, step string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.stepsTotal.WithLabelValues(flow, step, status).Inc()
	m.duration.WithLabelValues(flow).Observe(seconds)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

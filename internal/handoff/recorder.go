package handoff

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// DefaultAuditCapacity bounds the in-memory decision history.
const DefaultAuditCapacity = 10000

// ErrMetricNotFound is returned by MarkOutcome for an unknown record.
var ErrMetricNotFound = errors.New("handoff: metric not found")

var tracer = otel.Tracer("support-hitl/handoff")

// HandoffMetric is one recorded decision, keyed by conversation id and timestamp.
type HandoffMetric struct {
	ConversationID string        `json:"conversation_id" dynamodbav:"conversationId"`
	Timestamp      time.Time     `json:"timestamp" dynamodbav:"timestamp"`
	ShouldHandoff  bool          `json:"should_handoff" dynamodbav:"shouldHandoff"`
	TargetAgent    string        `json:"target_agent,omitempty" dynamodbav:"targetAgent,omitempty"`
	Reason         string        `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	Confidence     float64       `json:"confidence" dynamodbav:"confidence"`
	RulesEvaluated int           `json:"rules_evaluated" dynamodbav:"rulesEvaluated"`
	ContextFactors []string      `json:"context_factors" dynamodbav:"contextFactors,omitempty"`
	Latency        time.Duration `json:"latency_ns" dynamodbav:"latencyNs"`
	Correct        *bool         `json:"correct,omitempty" dynamodbav:"correct,omitempty"`
}

// MetricSink receives every recorded metric, typically for long-term storage.
type MetricSink interface {
	PutMetric(ctx context.Context, m HandoffMetric) error
}

// Report aggregates recorded decisions.
type Report struct {
	Total             int            `json:"total"`
	Handoffs          int            `json:"handoffs"`
	HandoffRate       float64        `json:"handoff_rate"`
	ByAgent           map[string]int `json:"by_agent"`
	AvgLatency        time.Duration  `json:"avg_latency_ns"`
	P95Latency        time.Duration  `json:"p95_latency_ns"`
	AvgRulesEvaluated float64        `json:"avg_rules_evaluated"`
	Labeled           int            `json:"labeled"`
	Accuracy          float64        `json:"accuracy"`
}

// Recorder keeps a bounded ring of decisions. The oldest records are
// overwritten once capacity is reached.
type Recorder struct {
	mu    sync.Mutex
	ring  []HandoffMetric
	next  int
	count int

	sink    MetricSink
	metrics *metrics.HandoffMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

func WithSink(sink MetricSink) RecorderOption {
	return func(r *Recorder) { r.sink = sink }
}

func WithMetrics(m *metrics.HandoffMetrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

func WithRecorderLogger(logger *logging.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a recorder holding up to capacity decisions.
func NewRecorder(capacity int, opts ...RecorderOption) *Recorder {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	r := &Recorder{
		ring:   make([]HandoffMetric, capacity),
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Evaluate runs the engine against c and records the timed decision.
func (r *Recorder) Evaluate(ctx context.Context, conversationID string, engine *Engine, c contextstore.Context) (Decision, HandoffMetric) {
	ctx, span := tracer.Start(ctx, "handoff.evaluate")
	defer span.End()

	start := time.Now()
	decision := engine.DecideHandoff(c)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Bool("handoff.should_handoff", decision.ShouldHandoff),
		attribute.String("handoff.target_agent", decision.TargetAgent),
		attribute.Int("handoff.rules_evaluated", decision.Metadata.RulesEvaluated),
	)
	return decision, r.Record(ctx, conversationID, decision, latency)
}

// Record stores a decision. Sink failures are logged and never surface to the caller.
func (r *Recorder) Record(ctx context.Context, conversationID string, d Decision, latency time.Duration) HandoffMetric {
	m := HandoffMetric{
		ConversationID: conversationID,
		Timestamp:      r.now().UTC(),
		ShouldHandoff:  d.ShouldHandoff,
		TargetAgent:    d.TargetAgent,
		Reason:         d.Reason,
		Confidence:     d.Confidence,
		RulesEvaluated: d.Metadata.RulesEvaluated,
		ContextFactors: append([]string(nil), d.Metadata.ContextFactors...),
		Latency:        latency,
	}

	r.mu.Lock()
	r.ring[r.next] = m
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()

	r.metrics.ObserveDecision(m.ShouldHandoff, m.TargetAgent, latency.Seconds(), m.RulesEvaluated)
	r.logger.Debug("handoff decision recorded",
		"conversation_id", conversationID,
		"should_handoff", m.ShouldHandoff,
		"target_agent", m.TargetAgent,
		"rules_evaluated", m.RulesEvaluated,
	)

	if r.sink != nil {
		if err := r.sink.PutMetric(ctx, m); err != nil {
			r.logger.Warn("failed to persist handoff metric", "conversation_id", conversationID, "error", err)
		}
	}
	return m
}

// MarkOutcome attaches ground truth to a previously recorded decision.
func (r *Recorder) MarkOutcome(conversationID string, timestamp time.Time, correct bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.count; i++ {
		m := &r.ring[i]
		if m.ConversationID == conversationID && m.Timestamp.Equal(timestamp) {
			v := correct
			m.Correct = &v
			r.metrics.ObserveOutcome(correct)
			return nil
		}
	}
	return ErrMetricNotFound
}

// Recent returns up to n records, newest first.
func (r *Recorder) Recent(n int) []HandoffMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]HandoffMetric, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Report summarizes records with a timestamp at or after since. A zero since covers everything.
func (r *Recorder) Report(since time.Time) Report {
	r.mu.Lock()
	records := make([]HandoffMetric, 0, r.count)
	for i := 0; i < r.count; i++ {
		if m := r.ring[i]; since.IsZero() || !m.Timestamp.Before(since) {
			records = append(records, m)
		}
	}
	r.mu.Unlock()

	rep := Report{ByAgent: map[string]int{}}
	if len(records) == 0 {
		return rep
	}

	var (
		latencies = make([]time.Duration, 0, len(records))
		total     time.Duration
		rules     int
		correct   int
	)
	for _, m := range records {
		rep.Total++
		if m.ShouldHandoff {
			rep.Handoffs++
			rep.ByAgent[m.TargetAgent]++
		}
		latencies = append(latencies, m.Latency)
		total += m.Latency
		rules += m.RulesEvaluated
		if m.Correct != nil {
			rep.Labeled++
			if *m.Correct {
				correct++
			}
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := int(math.Ceil(0.95*float64(len(latencies)))) - 1
	if p95 < 0 {
		p95 = 0
	}

	rep.HandoffRate = float64(rep.Handoffs) / float64(rep.Total)
	rep.AvgLatency = total / time.Duration(rep.Total)
	rep.P95Latency = latencies[p95]
	rep.AvgRulesEvaluated = float64(rules) / float64(rep.Total)
	if rep.Labeled > 0 {
		rep.Accuracy = float64(correct) / float64(rep.Labeled)
	}
	return rep
}

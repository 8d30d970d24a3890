package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

func convo(now time.Time, msgs ...contextstore.Message) contextstore.Context {
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	return contextstore.Context{Messages: msgs}
}

func TestCheckEscalationLegalThreatIsUrgent(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := convo(now, contextstore.Message{Role: contextstore.RoleUser, Content: "I will call my lawyer and want a refund"})

	got := CheckEscalation(c, nil, now)
	assert.True(t, got.ShouldEscalate)
	assert.Equal(t, EscalationUrgent, got.Priority)
	assert.Equal(t, []EscalationReason{ReasonLegalThreat, ReasonRefundRequest}, got.Reasons)
	assert.Equal(t, "manager", got.AssignTo)
	assert.Contains(t, got.Notes, "Escalation triggered: legal_threat, refund_request")
}

func TestCheckEscalationVIPAndQuiet(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := convo(now, contextstore.Message{Role: contextstore.RoleUser, Content: "hello there"})

	quiet := CheckEscalation(c, &CustomerValue{LifetimeValue: 50}, now)
	assert.False(t, quiet.ShouldEscalate)
	assert.Equal(t, EscalationNormal, quiet.Priority)
	assert.Empty(t, quiet.AssignTo)

	vip := CheckEscalation(c, &CustomerValue{OrderCount: 12}, now)
	assert.True(t, vip.ShouldEscalate)
	assert.Equal(t, EscalationHigh, vip.Priority)
	assert.Equal(t, "senior_support", vip.AssignTo)
}

func TestCheckEscalationSLA(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	unanswered := convo(now, contextstore.Message{Role: contextstore.RoleUser, Content: "hi", Timestamp: now.Add(-3 * time.Hour)})
	assert.Contains(t, CheckEscalation(unanswered, nil, now).Reasons, ReasonSLAViolation)

	answered := convo(now,
		contextstore.Message{Role: contextstore.RoleUser, Content: "hi", Timestamp: now.Add(-3 * time.Hour)},
		contextstore.Message{Role: contextstore.RoleAssistant, Content: "hello", Timestamp: now.Add(-2 * time.Hour)},
	)
	assert.NotContains(t, CheckEscalation(answered, nil, now).Reasons, ReasonSLAViolation)
}

func TestCheckEscalationMultipleIssuesAndSentiment(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := convo(now, contextstore.Message{Role: contextstore.RoleUser, Content: "my order tracking shows nothing"})
	c.Sentiment = contextstore.SentimentNegative
	c.Customer.OrderID = "#77"

	got := CheckEscalation(c, nil, now)
	assert.Equal(t, []EscalationReason{ReasonNegativeSentiment, ReasonMultipleIssues}, got.Reasons)
	assert.Equal(t, EscalationHigh, got.Priority)
	assert.Equal(t, "support_team", got.AssignTo)
	assert.Contains(t, got.Notes, "Related order: #77")
}

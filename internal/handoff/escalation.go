package handoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

// EscalationReason explains why a conversation needs a human.
type EscalationReason string

const (
	ReasonNegativeSentiment EscalationReason = "negative_sentiment"
	ReasonLegalThreat       EscalationReason = "legal_threat"
	ReasonRefundRequest     EscalationReason = "refund_request"
	ReasonSLAViolation      EscalationReason = "sla_violation"
	ReasonVIPCustomer       EscalationReason = "vip_customer"
	ReasonMultipleIssues    EscalationReason = "multiple_issues"
)

// EscalationPriority orders escalations for the human queue.
type EscalationPriority string

const (
	EscalationLow    EscalationPriority = "low"
	EscalationNormal EscalationPriority = "normal"
	EscalationHigh   EscalationPriority = "high"
	EscalationUrgent EscalationPriority = "urgent"
)

const (
	firstResponseSLA = 2 * time.Hour
	followUpSLA      = 24 * time.Hour
	vipLifetimeValue = 1000.0
	vipOrderCount    = 10
)

var (
	legalKeywords = []string{
		"lawyer", "attorney", "legal action", "sue", "lawsuit",
		"bbb", "better business bureau", "ftc", "consumer protection",
	}
	highPriorityKeywords = []string{
		"refund", "cancel order", "wrong item", "damaged", "defective",
		"broken", "never received", "missing",
	}
	issueKeywords = map[string][]string{
		"shipping": {"shipping", "delivery", "tracking"},
		"product":  {"wrong item", "defective", "broken", "damaged"},
		"refund":   {"refund", "money back"},
		"order":    {"order", "cancel"},
	}
)

// CustomerValue carries the commercial facts used for VIP detection.
type CustomerValue struct {
	LifetimeValue float64 `json:"lifetime_value"`
	OrderCount    int     `json:"order_count"`
	IsVIP         bool    `json:"is_vip"`
}

func (v CustomerValue) vip() bool {
	return v.IsVIP || v.LifetimeValue >= vipLifetimeValue || v.OrderCount >= vipOrderCount
}

// Escalation is the outcome of CheckEscalation.
type Escalation struct {
	ShouldEscalate bool               `json:"should_escalate"`
	Reasons        []EscalationReason `json:"reasons"`
	Priority       EscalationPriority `json:"priority"`
	AssignTo       string             `json:"assign_to,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// CheckEscalation decides whether a human must take over, independently of
// agent routing. customer may be nil when no commercial data is known.
func CheckEscalation(c contextstore.Context, customer *CustomerValue, now time.Time) Escalation {
	text := conversationText(c)
	result := Escalation{Reasons: []EscalationReason{}, Priority: EscalationNormal}

	raise := func(p EscalationPriority) {
		if result.Priority != EscalationUrgent {
			result.Priority = p
		}
	}

	if containsAny(text, legalKeywords) {
		result.Reasons = append(result.Reasons, ReasonLegalThreat)
		result.Priority = EscalationUrgent
	}
	if containsAny(text, highPriorityKeywords) {
		if strings.Contains(text, "refund") || strings.Contains(text, "money back") {
			result.Reasons = append(result.Reasons, ReasonRefundRequest)
		}
		raise(EscalationHigh)
	}
	if c.Sentiment == contextstore.SentimentNegative {
		result.Reasons = append(result.Reasons, ReasonNegativeSentiment)
		raise(EscalationHigh)
	}
	if slaViolated(c.Messages, now) {
		result.Reasons = append(result.Reasons, ReasonSLAViolation)
		raise(EscalationHigh)
	}
	if customer != nil && customer.vip() {
		result.Reasons = append(result.Reasons, ReasonVIPCustomer)
		if result.Priority == EscalationNormal {
			result.Priority = EscalationHigh
		}
	}
	if issueCount(text) >= 2 {
		result.Reasons = append(result.Reasons, ReasonMultipleIssues)
		if result.Priority == EscalationNormal {
			result.Priority = EscalationHigh
		}
	}

	if len(result.Reasons) == 0 {
		return result
	}
	result.ShouldEscalate = true
	result.AssignTo = assignee(result.Reasons)
	result.Notes = escalationNotes(result.Reasons, c)
	return result
}

func conversationText(c contextstore.Context) string {
	parts := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		parts = append(parts, strings.ToLower(m.Content))
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func issueCount(text string) int {
	n := 0
	for _, keywords := range issueKeywords {
		if containsAny(text, keywords) {
			n++
		}
	}
	return n
}

// slaViolated: an unanswered customer message older than the first-response
// window, or no customer message within the follow-up window.
func slaViolated(messages []contextstore.Message, now time.Time) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	if last.Role == contextstore.RoleUser {
		return now.Sub(last.Timestamp) > firstResponseSLA
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == contextstore.RoleUser {
			return now.Sub(messages[i].Timestamp) > followUpSLA
		}
	}
	return false
}

func assignee(reasons []EscalationReason) string {
	has := func(r EscalationReason) bool {
		for _, x := range reasons {
			if x == r {
				return true
			}
		}
		return false
	}
	switch {
	case has(ReasonLegalThreat):
		return "manager"
	case has(ReasonVIPCustomer):
		return "senior_support"
	case has(ReasonRefundRequest):
		return "support_lead"
	default:
		return "support_team"
	}
}

func escalationNotes(reasons []EscalationReason, c contextstore.Context) string {
	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = string(r)
	}
	notes := []string{"Escalation triggered: " + strings.Join(names, ", ")}
	if c.Customer.OrderID != "" {
		notes = append(notes, "Related order: "+c.Customer.OrderID)
	}
	if c.Sentiment != "" {
		notes = append(notes, "Sentiment: "+string(c.Sentiment))
	}
	notes = append(notes, fmt.Sprintf("Message count: %d", len(c.Messages)))
	return strings.Join(notes, ". ")
}

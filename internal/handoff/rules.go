package handoff

import (
	"strings"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

// Agent names.
const (
	AgentOrderSupport   = "Order Support"
	AgentProductQA      = "Product Q&A"
	AgentGeneralSupport = "General Support"
)

var orderIntents = map[string]bool{
	"order_status":       true,
	"order_tracking":     true,
	"order_refund":       true,
	"refund_request":     true,
	"order_cancel":       true,
	"cancel_order":       true,
	"order_exchange":     true,
	"exchange_request":   true,
	"shipping_inquiry":   true,
	"shipping_status":    true,
	"tracking_inquiry":   true,
	"delivery_problem":   true,
	"order_modification": true,
}

var productIntents = map[string]bool{
	"product_question":       true,
	"product_info":           true,
	"product_availability":   true,
	"product_recommendation": true,
	"product_comparison":     true,
	"sizing_question":        true,
	"inventory_check":        true,
}

// IsOrderIntent reports whether intent concerns an existing order.
func IsOrderIntent(intent string) bool {
	intent = normalizeIntent(intent)
	if intent == "" {
		return false
	}
	if orderIntents[intent] {
		return true
	}
	for _, word := range []string{"order", "refund", "cancel", "exchange", "shipping", "tracking"} {
		if strings.Contains(intent, word) {
			return true
		}
	}
	return false
}

// IsProductIntent reports whether intent concerns the catalog.
func IsProductIntent(intent string) bool {
	intent = normalizeIntent(intent)
	return productIntents[intent] || strings.HasPrefix(intent, "product_")
}

func normalizeIntent(intent string) string {
	return strings.ToLower(strings.TrimSpace(intent))
}

// DefaultRules is the built-in routing catalogue.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "urgent_order",
			Priority: 100,
			Condition: func(c contextstore.Context) bool {
				return IsOrderIntent(c.Intent) && c.Urgency == contextstore.UrgencyHigh
			},
			TargetAgent: AgentOrderSupport,
			Reason:      "Urgent order issue requires immediate order support",
		},
		{
			Name:     "unhappy_order",
			Priority: 90,
			Condition: func(c contextstore.Context) bool {
				return c.Sentiment == contextstore.SentimentNegative && IsOrderIntent(c.Intent)
			},
			TargetAgent: AgentOrderSupport,
			Reason:      "Negative sentiment on an order issue",
		},
		{
			Name:     "order_attached",
			Priority: 80,
			Condition: func(c contextstore.Context) bool {
				return c.HasOrder()
			},
			TargetAgent: AgentOrderSupport,
			Reason:      "Customer referenced a specific order",
		},
		{
			Name:     "order_intent",
			Priority: 80,
			Condition: func(c contextstore.Context) bool {
				return orderIntents[normalizeIntent(c.Intent)]
			},
			TargetAgent: AgentOrderSupport,
			Reason:      "Order status, refund, cancellation, exchange or shipping request",
		},
		{
			Name:     "product_intent",
			Priority: 70,
			Condition: func(c contextstore.Context) bool {
				return IsProductIntent(c.Intent)
			},
			TargetAgent: AgentProductQA,
			Reason:      "Product question",
		},
	}
}

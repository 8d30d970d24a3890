package handoff

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

const (
	// MatchConfidence is reported for every rule match. Decisions are rule-based, not scored.
	MatchConfidence = 0.9
	// NoMatchConfidence is reported when no rule applies.
	NoMatchConfidence = 1.0
)

// Condition inspects a context snapshot.
type Condition func(c contextstore.Context) bool

// Rule routes a conversation to TargetAgent when Condition holds.
type Rule struct {
	Name        string
	Priority    int
	Condition   Condition
	TargetAgent string
	Reason      string
}

// DecisionMetadata describes how a decision was reached.
type DecisionMetadata struct {
	RulesEvaluated int      `json:"rules_evaluated"`
	MatchedRule    string   `json:"matched_rule,omitempty"`
	ContextFactors []string `json:"context_factors"`
}

// Decision is the result of evaluating the rule list against one snapshot.
type Decision struct {
	ShouldHandoff bool             `json:"should_handoff"`
	TargetAgent   string           `json:"target_agent,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Confidence    float64          `json:"confidence"`
	Metadata      DecisionMetadata `json:"metadata"`
}

// Engine evaluates rules in descending priority. Among equal priorities the
// rule registered first wins.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine returns an engine seeded with rules, in registration order.
func NewEngine(rules ...Rule) *Engine {
	e := &Engine{}
	for _, r := range rules {
		e.AddRule(r)
	}
	return e
}

// NewDefaultEngine returns an engine loaded with DefaultRules.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultRules()...)
}

// AddRule registers a rule and keeps the list sorted. The list is replaced,
// never mutated, so DecideHandoff can iterate a snapshot without the lock.
func (e *Engine) AddRule(rule Rule) {
	if rule.Condition == nil {
		panic(fmt.Sprintf("handoff: rule %q has no condition", rule.Name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]Rule, len(e.rules), len(e.rules)+1)
	copy(next, e.rules)
	next = append(next, rule)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Priority > next[j].Priority
	})
	e.rules = next
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// DecideHandoff returns the decision of the first matching rule.
func (e *Engine) DecideHandoff(c contextstore.Context) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	factors := contextFactors(c)
	for i, rule := range rules {
		if !rule.Condition(c) {
			continue
		}
		return Decision{
			ShouldHandoff: true,
			TargetAgent:   rule.TargetAgent,
			Reason:        rule.Reason,
			Confidence:    MatchConfidence,
			Metadata: DecisionMetadata{
				RulesEvaluated: i + 1,
				MatchedRule:    rule.Name,
				ContextFactors: factors,
			},
		}
	}
	return Decision{
		Confidence: NoMatchConfidence,
		Metadata: DecisionMetadata{
			RulesEvaluated: len(rules),
			ContextFactors: factors,
		},
	}
}

func contextFactors(c contextstore.Context) []string {
	factors := []string{}
	if c.Intent != "" {
		factors = append(factors, "intent:"+c.Intent)
	}
	if c.Sentiment != "" {
		factors = append(factors, "sentiment:"+string(c.Sentiment))
	}
	if c.Urgency != "" {
		factors = append(factors, "urgency:"+string(c.Urgency))
	}
	if c.HasOrder() {
		factors = append(factors, "has_order_id")
	}
	if len(c.Customer.Tags) > 0 {
		factors = append(factors, "tagged")
	}
	return factors
}

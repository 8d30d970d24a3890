package contextstore

import (
	"errors"
	"time"
)

// MaxMessages is the number of most recent messages kept per conversation.
const MaxMessages = 50

// DefaultMaxAge is how long an untouched context survives a sweep.
const DefaultMaxAge = 24 * time.Hour

var (
	ErrInvalidRole      = errors.New("contextstore: invalid message role")
	ErrInvalidSentiment = errors.New("contextstore: invalid sentiment")
	ErrInvalidUrgency   = errors.New("contextstore: invalid urgency")
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Sentiment is the classified customer mood.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment validates a raw sentiment label.
func ParseSentiment(raw string) (Sentiment, error) {
	switch s := Sentiment(raw); s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return s, nil
	}
	return "", ErrInvalidSentiment
}

// Urgency is the classified urgency of the conversation.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency validates a raw urgency label.
func ParseUrgency(raw string) (Urgency, error) {
	switch u := Urgency(raw); u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return u, nil
	}
	return "", ErrInvalidUrgency
}

// Message is a single immutable conversation turn.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageInput is what callers provide when appending.
type MessageInput struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Customer holds the facts known about the person in the conversation.
type Customer struct {
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	OrderID string   `json:"order_id,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// CustomerPatch is a partial customer update. Nil fields are left untouched.
type CustomerPatch struct {
	Email   *string  `json:"email,omitempty"`
	Name    *string  `json:"name,omitempty"`
	OrderID *string  `json:"order_id,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Context is the per-conversation state the handoff engine and the drafting
// collaborator read from. Values returned by Store are copies.
type Context struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []Message      `json:"messages"`
	Customer       Customer       `json:"customer"`
	Intent         string         `json:"intent,omitempty"`
	Sentiment      Sentiment      `json:"sentiment,omitempty"`
	Urgency        Urgency        `json:"urgency,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasOrder reports whether the customer attached an order id.
func (c Context) HasOrder() bool {
	return c.Customer.OrderID != ""
}

func (c *Context) clone() Context {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Customer.Tags = append([]string(nil), c.Customer.Tags...)
	out.Metadata = copyMap(c.Metadata)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

func (c *Customer) apply(p CustomerPatch) {
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.OrderID != nil {
		c.OrderID = *p.OrderID
	}
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package contextstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/support-hitl/internal/keylock"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

const summaryMessageCount = 5

// Store keeps conversation contexts in memory. Mutations for one conversation
// id are serialized; different ids proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	locks    *keylock.Set

	lastStamp atomic.Int64
	now       func() time.Time
	logger    *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		contexts: make(map[string]*Context),
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns a copy of the conversation context, creating an empty one on first access.
func (s *Store) GetOrCreate(conversationID string) Context {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	return s.slot(conversationID, true).clone()
}

// Get returns a copy of an existing context without creating one.
func (s *Store) Get(conversationID string) (Context, bool) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	c := s.slot(conversationID, false)
	if c == nil {
		return Context{}, false
	}
	return c.clone(), true
}

// AppendMessage stores a new message, evicting the oldest beyond MaxMessages.
func (s *Store) AppendMessage(conversationID string, in MessageInput) (Message, error) {
	if !in.Role.valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}

	var msg Message
	s.mutate(conversationID, func(c *Context, now time.Time) {
		msg = Message{
			ID:        s.messageID(conversationID, now),
			Role:      in.Role,
			Content:   in.Content,
			Timestamp: now,
			Metadata:  copyMap(in.Metadata),
		}
		c.Messages = append(c.Messages, msg)
		if overflow := len(c.Messages) - MaxMessages; overflow > 0 {
			c.Messages = append([]Message(nil), c.Messages[overflow:]...)
		}
	})
	return msg, nil
}

// UpdateCustomer merges the non-nil patch fields into the customer facts.
func (s *Store) UpdateCustomer(conversationID string, patch CustomerPatch) {
	s.mutate(conversationID, func(c *Context, _ time.Time) {
		c.Customer.apply(patch)
	})
}

// SetIntent records the classified intent. An empty string clears it.
func (s *Store) SetIntent(conversationID, intent string) {
	s.mutate(conversationID, func(c *Context, _ time.Time) {
		c.Intent = strings.TrimSpace(intent)
	})
}

// SetSentiment records the classified sentiment.
func (s *Store) SetSentiment(conversationID string, sentiment Sentiment) error {
	if _, err := ParseSentiment(string(sentiment)); err != nil {
		return fmt.Errorf("%w: %q", err, sentiment)
	}
	s.mutate(conversationID, func(c *Context, _ time.Time) {
		c.Sentiment = sentiment
	})
	return nil
}

// SetUrgency records the classified urgency.
func (s *Store) SetUrgency(conversationID string, urgency Urgency) error {
	if _, err := ParseUrgency(string(urgency)); err != nil {
		return fmt.Errorf("%w: %q", err, urgency)
	}
	s.mutate(conversationID, func(c *Context, _ time.Time) {
		c.Urgency = urgency
	})
	return nil
}

// SetMetadata stores a free-form value on the context.
func (s *Store) SetMetadata(conversationID, key string, value any) {
	s.mutate(conversationID, func(c *Context, _ time.Time) {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		c.Metadata[key] = value
	})
}

// RecentMessages returns up to n of the latest messages, oldest first.
// Unknown conversations yield an empty slice.
func (s *Store) RecentMessages(conversationID string, n int) []Message {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	c := s.slot(conversationID, false)
	if c == nil || n <= 0 {
		return []Message{}
	}
	start := len(c.Messages) - n
	if start < 0 {
		start = 0
	}
	return append([]Message{}, c.Messages[start:]...)
}

// Summarize renders the known facts as plain text for prompt construction.
func (s *Store) Summarize(conversationID string) string {
	c, ok := s.Get(conversationID)
	if !ok {
		return ""
	}

	var b strings.Builder
	if c.Customer.Name != "" || c.Customer.Email != "" {
		b.WriteString("Customer: ")
		b.WriteString(strings.TrimSpace(c.Customer.Name))
		if c.Customer.Email != "" {
			if c.Customer.Name != "" {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "<%s>", c.Customer.Email)
		}
		b.WriteString("\n")
	}
	if c.Customer.OrderID != "" {
		fmt.Fprintf(&b, "Order: %s\n", c.Customer.OrderID)
	}
	if len(c.Customer.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(c.Customer.Tags, ", "))
	}
	if c.Intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", c.Intent)
	}
	if c.Sentiment != "" {
		fmt.Fprintf(&b, "Sentiment: %s\n", c.Sentiment)
	}
	if c.Urgency != "" {
		fmt.Fprintf(&b, "Urgency: %s\n", c.Urgency)
	}

	recent := c.Messages
	if len(recent) > summaryMessageCount {
		recent = recent[len(recent)-summaryMessageCount:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Sweep deletes every context untouched for longer than maxAge and returns
// how many were removed. Conversations locked by an in-flight mutation are skipped.
func (s *Store) Sweep(maxAge time.Duration) int {
	return len(s.SweepExpired(maxAge))
}

// SweepExpired is Sweep returning the evicted conversation ids.
func (s *Store) SweepExpired(maxAge time.Duration) []string {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := s.now().Add(-maxAge)

	var removed []string
	for _, id := range s.ids() {
		unlock, ok := s.locks.TryLock(id)
		if !ok {
			s.logger.Debug("sweep skipped busy conversation", "conversation_id", id)
			continue
		}
		s.mu.Lock()
		if c, exists := s.contexts[id]; exists && c.UpdatedAt.Before(cutoff) {
			delete(s.contexts, id)
			removed = append(removed, id)
		}
		s.mu.Unlock()
		unlock()
	}
	return removed
}

// Len reports how many contexts are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// SnapshotWriter receives contexts when the store is flushed.
type SnapshotWriter interface {
	SaveContext(ctx context.Context, c Context) error
}

// SnapshotReader supplies previously flushed contexts.
type SnapshotReader interface {
	LoadContexts(ctx context.Context) ([]Context, error)
}

// Flush writes every live context to w, continuing past individual failures.
func (s *Store) Flush(ctx context.Context, w SnapshotWriter) (int, error) {
	if w == nil {
		return 0, nil
	}
	var (
		saved int
		errs  []error
	)
	for _, id := range s.ids() {
		c, ok := s.Get(id)
		if !ok {
			continue
		}
		if err := w.SaveContext(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("contextstore: flush %s: %w", id, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Restore loads contexts from r. Existing entries are kept and expired snapshots are dropped.
func (s *Store) Restore(ctx context.Context, r SnapshotReader, maxAge time.Duration) (int, error) {
	if r == nil {
		return 0, nil
	}
	snapshots, err := r.LoadContexts(ctx)
	if err != nil {
		return 0, fmt.Errorf("contextstore: restore: %w", err)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := s.now().Add(-maxAge)

	restored := 0
	for i := range snapshots {
		snap := snapshots[i]
		if snap.ConversationID == "" || snap.UpdatedAt.Before(cutoff) {
			continue
		}
		if len(snap.Messages) > MaxMessages {
			snap.Messages = snap.Messages[len(snap.Messages)-MaxMessages:]
		}
		unlock := s.locks.Lock(snap.ConversationID)
		s.mu.Lock()
		if _, exists := s.contexts[snap.ConversationID]; !exists {
			c := snap.clone()
			s.contexts[snap.ConversationID] = &c
			restored++
		}
		s.mu.Unlock()
		unlock()
	}
	return restored, nil
}

// mutate runs fn with the conversation locked and bumps UpdatedAt.
func (s *Store) mutate(conversationID string, fn func(c *Context, now time.Time)) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	c := s.slot(conversationID, true)
	now := s.now()
	fn(c, now)
	c.UpdatedAt = now
}

// slot must be called with the conversation key held.
func (s *Store) slot(conversationID string, create bool) *Context {
	s.mu.RLock()
	c, ok := s.contexts[conversationID]
	s.mu.RUnlock()
	if ok || !create {
		return c
	}

	now := s.now()
	c = &Context{
		ConversationID: conversationID,
		Messages:       []Message{},
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.mu.Lock()
	s.contexts[conversationID] = c
	s.mu.Unlock()
	return c
}

func (s *Store) ids() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// messageID combines the conversation id, a strictly increasing timestamp and
// a random suffix so ids stay unique without a shared counter.
func (s *Store) messageID(conversationID string, now time.Time) string {
	stamp := now.UnixNano()
	for {
		last := s.lastStamp.Load()
		if stamp <= last {
			stamp = last + 1
		}
		if s.lastStamp.CompareAndSwap(last, stamp) {
			break
		}
	}
	return fmt.Sprintf("%s-%d-%s", conversationID, stamp, uuid.NewString()[:8])
}

package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

const defaultBatchConcurrency = 8

// Store persists signals.
type Store interface {
	Save(ctx context.Context, s Signal) error
}

// Capturer turns draft/final pairs into signals and persists them.
type Capturer struct {
	store       Store
	metrics     *metrics.LearningMetrics
	logger      *logging.Logger
	now         func() time.Time
	concurrency int
}

type Option func(*Capturer)

func WithMetrics(m *metrics.LearningMetrics) Option {
	return func(c *Capturer) { c.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Capturer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Capturer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithConcurrency bounds how many saves BatchPersist runs at once.
func WithConcurrency(n int) Option {
	return func(c *Capturer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func NewCapturer(store Store, opts ...Option) *Capturer {
	c := &Capturer{
		store:       store,
		logger:      logging.Default(),
		now:         time.Now,
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture builds a signal. It does not persist anything.
func (c *Capturer) Capture(conversationID, draft, human string, g Grading, md Metadata) (Signal, error) {
	if err := g.Validate(); err != nil {
		return Signal{}, err
	}
	if strings.TrimSpace(draft) == "" {
		c.logger.Warn("capturing learning signal against an empty draft",
			"conversation_id", conversationID,
			"approval_id", md.ApprovalID,
		)
	}

	analysis := Analyze(draft, human, g)
	sources := md.RAGSources
	if sources == nil {
		sources = []string{}
	}
	s := Signal{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		ApprovalID:      md.ApprovalID,
		CustomerMessage: md.CustomerMessage,
		DraftReply:      draft,
		HumanReply:      human,
		EditDistance:    analysis.EditDistance,
		EditRatio:       analysis.EditRatio,
		EditType:        analysis.EditType,
		LearningType:    analysis.LearningType,
		Changes:         analysis.Changes,
		Grading:         g,
		RAGSources:      append([]string{}, sources...),
		Confidence:      md.Confidence,
		Approved:        md.Approved,
		GradedBy:        md.GradedBy,
		CreatedAt:       c.now().UTC(),
	}
	c.metrics.ObserveSignal(string(s.EditType), s.Approved, s.EditRatio)
	return s, nil
}

// Persist saves one signal and reports the outcome instead of returning an error.
func (c *Capturer) Persist(ctx context.Context, s Signal) (res PersistResult) {
	defer func() {
		if r := recover(); r != nil {
			res = PersistResult{Error: fmt.Sprintf("learning: store panicked: %v", r)}
		}
		c.metrics.ObservePersist(res.Success)
	}()

	if c.store == nil {
		return PersistResult{Error: "learning: no store configured"}
	}
	if err := c.store.Save(ctx, s); err != nil {
		c.logger.Error("failed to persist learning signal", "signal_id", s.ID, "conversation_id", s.ConversationID, "error", err)
		return PersistResult{Error: err.Error()}
	}
	return PersistResult{Success: true, ID: s.ID}
}

// BatchPersist saves every signal independently. One failure never stops the others.
func (c *Capturer) BatchPersist(ctx context.Context, signals []Signal) BatchResult {
	results := make([]PersistResult, len(signals))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range signals {
		g.Go(func() error {
			results[i] = c.Persist(ctx, signals[i])
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Errors: []BatchError{}}
	for i, r := range results {
		if r.Success {
			out.Successful++
			continue
		}
		out.Failed++
		out.Errors = append(out.Errors, BatchError{SignalID: signals[i].ID, Error: r.Error})
	}
	return out
}

// MemoryStore keeps signals in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	signals []Signal
	byID    map[string]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]int{}}
}

// ErrDuplicateSignal is returned when a signal id is saved twice.
var ErrDuplicateSignal = errors.New("learning: signal already stored")

func (m *MemoryStore) Save(_ context.Context, s Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return ErrDuplicateSignal
	}
	m.byID[s.ID] = len(m.signals)
	m.signals = append(m.signals, s)
	return nil
}

// Signals returns stored signals in insertion order.
func (m *MemoryStore) Signals() []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Signal(nil), m.signals...)
}

func (m *MemoryStore) Get(id string) (Signal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return Signal{}, false
	}
	return m.signals[idx], true
}

package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/support-hitl/internal/keylock"
	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// EventRecordValidation stores a dry-run result without changing state.
const EventRecordValidation Event = "record_validation"

// ErrMissingLearningSignal is returned by RecordLearning without a signal id.
var ErrMissingLearningSignal = errors.New("approval: learning signal id required")

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateDraft, EventSubmitForReview}:        StatePendingReview,
	{StatePendingReview, EventApprove}:        StateApproved,
	{StatePendingReview, EventReject}:         StateDraft,
	{StatePendingReview, EventRequestChanges}: StateDraft,
	{StateApproved, EventApply}:               StateApplied,
	{StateApplied, EventAudit}:                StateAudited,
	{StateAudited, EventRecordLearning}:       StateLearned,
}

// Next returns the state reached by firing event in from.
func Next(from State, event Event) (State, bool) {
	to, ok := transitions[edge{from, event}]
	return to, ok
}

// TransitionEvent describes a committed transition.
type TransitionEvent struct {
	ApprovalID     string    `json:"approval_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Kind           Kind      `json:"kind"`
	Event          Event     `json:"event"`
	From           State     `json:"from,omitempty"`
	To             State     `json:"to"`
	Actor          string    `json:"actor,omitempty"`
	Version        int       `json:"version"`
	ReceiptHash    string    `json:"receipt_hash"`
	At             time.Time `json:"at"`
}

// EventSink is notified after each committed transition.
type EventSink interface {
	PublishTransition(ctx context.Context, evt TransitionEvent) error
}

// Machine enforces the approval lifecycle. Transitions on one approval are
// serialized; the losing side of a race sees ErrInvalidTransition.
type Machine struct {
	repo    Repository
	locks   *keylock.Set
	sink    EventSink
	metrics *metrics.ApprovalMetrics
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

type MachineOption func(*Machine)

func WithEventSink(sink EventSink) MachineOption {
	return func(m *Machine) { m.sink = sink }
}

func WithMetrics(am *metrics.ApprovalMetrics) MachineOption {
	return func(m *Machine) { m.metrics = am }
}

func WithLogger(logger *logging.Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine builds a machine over repo. A nil repo uses a MemoryRepository.
func NewMachine(repo Repository, opts ...MachineOption) *Machine {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	m := &Machine{
		repo:   repo,
		locks:  keylock.New(),
		logger: logging.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new approval in draft.
func (m *Machine) Create(ctx context.Context, d Draft) (*Approval, error) {
	return m.create(ctx, d, false)
}

// CreateForReview stores a new approval directly in pending_review. Both
// receipts are written by one save, so a failure leaves nothing behind.
func (m *Machine) CreateForReview(ctx context.Context, d Draft) (*Approval, error) {
	return m.create(ctx, d, true)
}

func (m *Machine) create(ctx context.Context, d Draft, submit bool) (*Approval, error) {
	if !d.Kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	now := m.now().UTC()
	a := &Approval{
		ID:               m.newID(),
		Kind:             d.Kind,
		State:            StateDraft,
		Summary:          strings.TrimSpace(d.Summary),
		CreatedBy:        d.CreatedBy,
		ConversationID:   d.ConversationID,
		Evidence:         d.Evidence,
		Impact:           d.Impact,
		Risk:             d.Risk,
		Rollback:         d.Rollback,
		Actions:          d.Actions,
		Receipts:         []Receipt{},
		ValidationErrors: []string{},
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if a.Actions == nil {
		a.Actions = []Action{}
	}
	if a.Rollback.Steps == nil {
		a.Rollback.Steps = []string{}
	}
	a = a.Clone()
	receipts := []Receipt{appendReceipt(a, EventCreate, "", d.CreatedBy, "", now)}
	events := []Event{EventCreate}
	if submit {
		if err := submitGate(a); err != nil {
			m.observeGate(err)
			return nil, err
		}
		a.State = StatePendingReview
		receipts = append(receipts, appendReceipt(a, EventSubmitForReview, StateDraft, d.CreatedBy, "", now))
		events = append(events, EventSubmitForReview)
	}

	if err := m.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: create: %w", err)
	}
	from := State("")
	for i, event := range events {
		to := receipts[i].To
		m.metrics.ObserveTransition(string(a.Kind), string(event), string(to))
		m.publishReceipt(ctx, a, event, from, to, d.CreatedBy, receipts[i])
		from = to
	}
	m.logger.Info("approval created", "approval_id", a.ID, "kind", a.Kind, "state", a.State, "conversation_id", a.ConversationID)
	return a.Clone(), nil
}

// Get loads an approval.
func (m *Machine) Get(ctx context.Context, id string) (*Approval, error) {
	return m.repo.Load(ctx, id)
}

// List returns approvals matching filter.
func (m *Machine) List(ctx context.Context, filter ListFilter) ([]*Approval, error) {
	return m.repo.List(ctx, filter)
}

// SubmitForReview moves a draft with evidence into review.
func (m *Machine) SubmitForReview(ctx context.Context, id, actor string) (*Approval, error) {
	return m.transition(ctx, id, EventSubmitForReview, actor, "", submitGate, nil)
}

// Approve enforces the evidence, rollback and validation gate. grades may be nil.
func (m *Machine) Approve(ctx context.Context, id, reviewer string, grades *Grades) (*Approval, error) {
	if grades != nil && !grades.valid() {
		return nil, ErrInvalidGrades
	}
	return m.transition(ctx, id, EventApprove, reviewer, "", approveGate, func(a *Approval) {
		a.Reviewer = reviewer
		if grades != nil {
			g := *grades
			a.Grades = &g
		}
	})
}

// Reject returns the approval to draft with a reason.
func (m *Machine) Reject(ctx context.Context, id, reviewer, reason string) (*Approval, error) {
	return m.transition(ctx, id, EventReject, reviewer, reason, nil, func(a *Approval) {
		a.Reviewer = reviewer
		a.RejectionReason = reason
	})
}

// RequestChanges returns the approval to draft with a change note.
func (m *Machine) RequestChanges(ctx context.Context, id, reviewer, note string) (*Approval, error) {
	return m.transition(ctx, id, EventRequestChanges, reviewer, note, nil, func(a *Approval) {
		a.Reviewer = reviewer
		a.ChangeRequest = note
	})
}

// Apply marks the approved change as executed. ref identifies the side
// effect, e.g. the id of the message sent to the customer, and may be empty.
func (m *Machine) Apply(ctx context.Context, id, actor, ref string) (*Approval, error) {
	ref = strings.TrimSpace(ref)
	return m.transition(ctx, id, EventApply, actor, ref, nil, func(a *Approval) {
		a.DeliveryRef = ref
	})
}

// Audit closes review of the applied change. A non-empty signalID links the
// learning signal captured for it ahead of RecordLearning.
func (m *Machine) Audit(ctx context.Context, id, actor, signalID string) (*Approval, error) {
	signalID = strings.TrimSpace(signalID)
	return m.transition(ctx, id, EventAudit, actor, signalID, nil, func(a *Approval) {
		if signalID != "" {
			a.LearningSignalID = signalID
		}
	})
}

// RecordLearning links the captured learning signal and closes the lifecycle.
// An empty signalID falls back to the one linked at audit.
func (m *Machine) RecordLearning(ctx context.Context, id, signalID string) (*Approval, error) {
	signalID = strings.TrimSpace(signalID)
	guard := func(a *Approval) error {
		if signalID == "" {
			signalID = a.LearningSignalID
		}
		if signalID == "" {
			return ErrMissingLearningSignal
		}
		return nil
	}
	return m.transition(ctx, id, EventRecordLearning, "", signalID, guard, func(a *Approval) {
		a.LearningSignalID = signalID
	})
}

// RecordValidation stores dry-run problems. Only drafts and approvals in review accept them.
func (m *Machine) RecordValidation(ctx context.Context, id, actor string, problems []string) (*Approval, error) {
	return m.revalidate(ctx, id, actor, func(*Approval) []string { return problems })
}

// RunValidation runs Validate against the stored approval and records the result.
func (m *Machine) RunValidation(ctx context.Context, id, actor string) (*Approval, error) {
	return m.revalidate(ctx, id, actor, Validate)
}

func (m *Machine) revalidate(ctx context.Context, id, actor string, check func(*Approval) []string) (*Approval, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	a, err := m.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State != StateDraft && a.State != StatePendingReview {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, EventRecordValidation, a.State)
	}

	problems := check(a)
	a.ValidationErrors = make([]string, len(problems))
	copy(a.ValidationErrors, problems)
	status := DryRunPassed
	if len(problems) > 0 {
		status = DryRunFailed
	}
	for i := range a.Actions {
		a.Actions[i].DryRunStatus = status
	}

	now := m.now().UTC()
	a.UpdatedAt = now
	a.Version++
	receipt := appendReceipt(a, EventRecordValidation, a.State, actor, strings.Join(problems, "; "), now)
	if err := m.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save %s: %w", id, err)
	}
	m.publish(ctx, a, EventRecordValidation, a.State, actor, receipt)
	return a.Clone(), nil
}

func (m *Machine) transition(ctx context.Context, id string, event Event, actor, note string, guard func(*Approval) error, mutate func(*Approval)) (*Approval, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	a, err := m.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	to, ok := Next(a.State, event)
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, a.State)
	}
	if guard != nil {
		if err := guard(a); err != nil {
			m.observeGate(err)
			m.logger.Warn("approval transition blocked", "approval_id", id, "event", event, "error", err)
			return nil, err
		}
	}

	from := a.State
	if mutate != nil {
		mutate(a)
	}
	now := m.now().UTC()
	a.State = to
	a.UpdatedAt = now
	a.Version++
	receipt := appendReceipt(a, event, from, actor, note, now)

	if err := m.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save %s: %w", id, err)
	}
	m.metrics.ObserveTransition(string(a.Kind), string(event), string(to))
	m.publish(ctx, a, event, from, actor, receipt)
	m.logger.Info("approval transitioned",
		"approval_id", id,
		"conversation_id", a.ConversationID,
		"event", event,
		"from", from,
		"to", to,
	)
	return a.Clone(), nil
}

func (m *Machine) observeGate(err error) {
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		return
	}
	for _, f := range gateErr.Failures {
		m.metrics.ObserveGateFailure(string(f))
	}
}

// publish is best effort; the transition is already committed.
func (m *Machine) publish(ctx context.Context, a *Approval, event Event, from State, actor string, receipt Receipt) {
	m.publishReceipt(ctx, a, event, from, a.State, actor, receipt)
}

func (m *Machine) publishReceipt(ctx context.Context, a *Approval, event Event, from, to State, actor string, receipt Receipt) {
	if m.sink == nil {
		return
	}
	evt := TransitionEvent{
		ApprovalID:     a.ID,
		ConversationID: a.ConversationID,
		Kind:           a.Kind,
		Event:          event,
		From:           from,
		To:             to,
		Actor:          actor,
		Version:        a.Version,
		ReceiptHash:    receipt.Hash,
		At:             receipt.At,
	}
	if err := m.sink.PublishTransition(ctx, evt); err != nil {
		m.logger.Error("failed to publish approval transition", "approval_id", a.ID, "event", event, "error", err)
	}
}

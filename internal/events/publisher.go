package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/learning"
)

type inserter interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

// Publisher writes domain events into the outbox. It satisfies
// approval.EventSink and learning.Store so it can be attached as a sink or mirror.
type Publisher struct {
	outbox inserter
}

func NewPublisher(store *OutboxStore) *Publisher {
	if store == nil {
		panic("events: outbox store required")
	}
	return &Publisher{outbox: store}
}

func (p *Publisher) PublishTransition(ctx context.Context, evt approval.TransitionEvent) error {
	payload := ApprovalTransitionedV1{
		EventID:        uuid.NewString(),
		ApprovalID:     evt.ApprovalID,
		ConversationID: evt.ConversationID,
		Kind:           evt.Kind,
		Event:          evt.Event,
		From:           evt.From,
		To:             evt.To,
		Actor:          evt.Actor,
		Version:        evt.Version,
		ReceiptHash:    evt.ReceiptHash,
		OccurredAt:     evt.At,
	}
	if _, err := p.outbox.Insert(ctx, evt.ApprovalID, TypeApprovalTransitioned, payload); err != nil {
		return fmt.Errorf("events: publish transition: %w", err)
	}
	return nil
}

// Save records that a learning signal was captured.
func (p *Publisher) Save(ctx context.Context, sig learning.Signal) error {
	payload := LearningSignalCapturedV1{
		EventID:        uuid.NewString(),
		SignalID:       sig.ID,
		ConversationID: sig.ConversationID,
		ApprovalID:     sig.ApprovalID,
		Approved:       sig.Approved,
		EditDistance:   sig.EditDistance,
		EditRatio:      sig.EditRatio,
		EditType:       sig.EditType,
		LearningType:   sig.LearningType,
		GradeAverage:   sig.Grading.Average(),
		CapturedAt:     sig.CreatedAt,
	}
	if _, err := p.outbox.Insert(ctx, sig.ConversationID, TypeLearningSignalCaptured, payload); err != nil {
		return fmt.Errorf("events: publish learning signal: %w", err)
	}
	return nil
}

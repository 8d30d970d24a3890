package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/learning"
)

type insertCall struct {
	aggregateID string
	eventType   string
	payload     []byte
}

type recordingInserter struct {
	calls []insertCall
	err   error
}

func (r *recordingInserter) Insert(_ context.Context, aggregateID, eventType string, payload any) (uuid.UUID, error) {
	if r.err != nil {
		return uuid.Nil, r.err
	}
	data, _ := json.Marshal(payload)
	r.calls = append(r.calls, insertCall{aggregateID, eventType, data})
	return uuid.New(), nil
}

func TestPublisherTransition(t *testing.T) {
	rec := &recordingInserter{}
	p := &Publisher{outbox: rec}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishTransition(context.Background(), approval.TransitionEvent{
		ApprovalID: "appr-1",
		Kind:       approval.KindCXReply,
		Event:      approval.EventApprove,
		From:       approval.StatePendingReview,
		To:         approval.StateApproved,
		Actor:      "rev",
		Version:    3,
		At:         at,
	})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "appr-1", rec.calls[0].aggregateID)
	assert.Equal(t, TypeApprovalTransitioned, rec.calls[0].eventType)

	var got ApprovalTransitionedV1
	require.NoError(t, json.Unmarshal(rec.calls[0].payload, &got))
	assert.Equal(t, approval.StateApproved, got.To)
	assert.Equal(t, 3, got.Version)
	assert.NotEmpty(t, got.EventID)
	assert.True(t, got.OccurredAt.Equal(at))
}

func TestPublisherSignal(t *testing.T) {
	rec := &recordingInserter{}
	p := &Publisher{outbox: rec}

	err := p.Save(context.Background(), learning.Signal{
		ID:             "sig-1",
		ConversationID: "conv-1",
		Approved:       true,
		EditDistance:   4,
		Grading:        learning.Grading{Tone: 3, Accuracy: 4, Policy: 5},
	})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "conv-1", rec.calls[0].aggregateID)
	assert.Equal(t, TypeLearningSignalCaptured, rec.calls[0].eventType)

	var got LearningSignalCapturedV1
	require.NoError(t, json.Unmarshal(rec.calls[0].payload, &got))
	assert.Equal(t, "sig-1", got.SignalID)
	assert.InDelta(t, 4.0, got.GradeAverage, 1e-9)
}

func TestPublisherWrapsInsertErrors(t *testing.T) {
	cause := errors.New("insert failed")
	p := &Publisher{outbox: &recordingInserter{err: cause}}
	assert.ErrorIs(t, p.PublishTransition(context.Background(), approval.TransitionEvent{}), cause)
	assert.ErrorIs(t, p.Save(context.Background(), learning.Signal{}), cause)
}

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/support-hitl/internal/approval"
)

type recordingSender struct {
	sent  []Notice
	fails map[string]error
}

func (r *recordingSender) Deliver(_ context.Context, n Notice) error {
	r.sent = append(r.sent, n)
	failed := map[string]error{}
	for _, to := range n.Recipients {
		if err := r.fails[to]; err != nil {
			failed[to] = err
		}
	}
	if len(failed) > 0 {
		return &DeliveryError{ApprovalID: n.ApprovalID, Failed: failed}
	}
	return nil
}

func pendingApproval() *approval.Approval {
	return &approval.Approval{
		ID:             "appr-1",
		Kind:           approval.KindCXReply,
		Summary:        "Reply to conversation conv-1",
		ConversationID: "conv-1",
		Evidence:       approval.Evidence{Samples: []string{"Your order <b>ships</b> tomorrow."}},
		Risk:           approval.Risk{WhatCouldGoWrong: "wrong date"},
	}
}

func TestReviewNotifierSendsToEveryReviewer(t *testing.T) {
	sender := &recordingSender{}
	n := NewReviewNotifier(sender, []string{"a@example.com", " ", "b@example.com"}, "https://review.example.com/", nil)
	require.NotNil(t, n)

	require.NoError(t, n.ApprovalPending(context.Background(), pendingApproval()))
	require.Len(t, sender.sent, 1)
	notice := sender.sent[0]
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, notice.Recipients)
	assert.Equal(t, "appr-1", notice.ApprovalID)
	assert.Equal(t, "cx_reply", notice.Kind)
	assert.Equal(t, "Review needed: Reply to conversation conv-1", notice.Subject)
	assert.Contains(t, notice.Text, "Proposed reply:\nYour order <b>ships</b> tomorrow.")
	assert.Contains(t, notice.Text, "Review: https://review.example.com/approvals/appr-1")
	assert.Contains(t, notice.HTML, "&lt;b&gt;ships&lt;/b&gt;")
}

func TestReviewNotifierReportsMissedReviewers(t *testing.T) {
	boom := errors.New("mailbox full")
	sender := &recordingSender{fails: map[string]error{"a@example.com": boom}}
	n := NewReviewNotifier(sender, []string{"a@example.com", "b@example.com"}, "", nil)

	err := n.ApprovalPending(context.Background(), pendingApproval())
	require.ErrorIs(t, err, boom)
	assert.True(t, strings.Contains(err.Error(), "a@example.com"))
	assert.Equal(t, []string{"a@example.com"}, Unreached(err))
	assert.NotContains(t, sender.sent[0].Text, "Review:")
}

func TestNewReviewNotifierNilCases(t *testing.T) {
	assert.Nil(t, NewReviewNotifier(nil, []string{"a@example.com"}, "", nil))
	assert.Nil(t, NewReviewNotifier(&recordingSender{}, []string{" "}, "", nil))

	var n *ReviewNotifier
	assert.NoError(t, n.ApprovalPending(context.Background(), pendingApproval()))
}

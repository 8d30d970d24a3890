package events

import (
	"time"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/learning"
)

const (
	TypeApprovalTransitioned   = "approval.transitioned.v1"
	TypeLearningSignalCaptured = "learning.signal_captured.v1"
)

type ApprovalTransitionedV1 struct {
	EventID        string         `json:"event_id"`
	ApprovalID     string         `json:"approval_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           approval.Kind  `json:"kind"`
	Event          approval.Event `json:"event"`
	From           approval.State `json:"from,omitempty"`
	To             approval.State `json:"to"`
	Actor          string         `json:"actor,omitempty"`
	Version        int            `json:"version"`
	ReceiptHash    string         `json:"receipt_hash"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type LearningSignalCapturedV1 struct {
	EventID        string                `json:"event_id"`
	SignalID       string                `json:"signal_id"`
	ConversationID string                `json:"conversation_id"`
	ApprovalID     string                `json:"approval_id,omitempty"`
	Approved       bool                  `json:"approved"`
	EditDistance   int                   `json:"edit_distance"`
	EditRatio      float64               `json:"edit_ratio"`
	EditType       learning.EditType     `json:"edit_type"`
	LearningType   learning.LearningType `json:"learning_type"`
	GradeAverage   float64               `json:"grade_average"`
	CapturedAt     time.Time             `json:"captured_at"`
}

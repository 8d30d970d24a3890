// Package hitl composes drafting, review and learning capture into the
// approval flows a support reviewer drives.
package hitl

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/learning"
)

// Step names the stage a flow reached.
type Step string

const (
	StepGenerateDraft   Step = "generate_draft"
	StepPostNote        Step = "post_note"
	StepCreateApproval  Step = "create_approval"
	StepApprove         Step = "approve"
	StepReject          Step = "reject"
	StepSendReply       Step = "send_reply"
	StepApply           Step = "apply"
	StepCaptureLearning Step = "capture_learning"
	StepAudit           Step = "audit"
	StepRecordLearning  Step = "record_learning"
	StepComplete        Step = "complete"
)

// RejectionReason is recorded when a reviewer replaces the draft with their own reply.
const RejectionReason = "replaced by manual reply"

var (
	ErrMissingApprovalID    = errors.New("hitl: approval id required")
	ErrConversationMismatch = errors.New("hitl: approval belongs to another conversation")
)

// DraftRequest asks for a reply to the latest customer turn.
type DraftRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []contextstore.Message `json:"messages"`
	CustomerEmail  string                 `json:"customer_email,omitempty"`
	RequestedBy    string                 `json:"requested_by,omitempty"`
}

// LastCustomerMessage returns the newest user-authored content.
func (r DraftRequest) LastCustomerMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == contextstore.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Draft is what a DraftGenerator proposes.
type Draft struct {
	SuggestedReply string            `json:"suggested_reply"`
	Confidence     float64           `json:"confidence"`
	RAGSources     []string          `json:"rag_sources"`
	ToneAnalysis   string            `json:"tone_analysis,omitempty"`
	Evidence       approval.Evidence `json:"evidence"`
	Risk           approval.Risk     `json:"risk"`
}

// DraftResult is returned once a draft is posted and queued for review.
type DraftResult struct {
	Draft         Draft  `json:"draft"`
	PrivateNoteID string `json:"private_note_id"`
	ApprovalID    string `json:"approval_id"`
}

// Metadata rebuilds the context the approval step needs.
func (r DraftResult) Metadata(customerMessage string) DraftMetadata {
	return DraftMetadata{
		ApprovalID:      r.ApprovalID,
		DraftReply:      r.Draft.SuggestedReply,
		Confidence:      r.Draft.Confidence,
		RAGSources:      r.Draft.RAGSources,
		CustomerMessage: customerMessage,
	}
}

// DraftMetadata travels with a draft from posting to the reviewer's decision.
type DraftMetadata struct {
	ApprovalID      string   `json:"approval_id"`
	DraftReply      string   `json:"draft_reply"`
	Confidence      float64  `json:"confidence"`
	RAGSources      []string `json:"rag_sources,omitempty"`
	CustomerMessage string   `json:"customer_message,omitempty"`
	Reviewer        string   `json:"reviewer,omitempty"`
}

// ApprovalData is the reviewer's input to the full flow.
type ApprovalData struct {
	FinalReply string           `json:"final_reply"`
	Grading    learning.Grading `json:"grading"`
	Reviewer   string           `json:"reviewer"`
}

// FlowResult reports how far a flow got.
type FlowResult struct {
	Success          bool   `json:"success"`
	Step             Step   `json:"step"`
	ApprovalID       string `json:"approval_id,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
	LearningSignalID string `json:"learning_signal_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// StepError ties a failure to the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("hitl: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DraftGenerator proposes a reply for a conversation.
type DraftGenerator interface {
	Generate(ctx context.Context, req DraftRequest) (Draft, error)
}

// Messenger delivers notes and replies to the support inbox.
type Messenger interface {
	PostPrivateNote(ctx context.Context, conversationID, content string) (string, error)
	SendPublicReply(ctx context.Context, conversationID, content string) (string, error)
}

// ReviewNotifier is told when an approval is waiting on a human.
type ReviewNotifier interface {
	ApprovalPending(ctx context.Context, a *approval.Approval) error
}

package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/keylock"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

var tracer = otel.Tracer("support-hitl/hitl")

const (
	flowDraft   = "draft"
	flowApprove = "approve"
	flowReject  = "reject"
)

// Service runs the reviewer-facing flows. Each flow stops at the first
// failing step and reports it; nothing is retried here.
type Service struct {
	generator DraftGenerator
	messenger Messenger
	machine   *approval.Machine
	capturer  *learning.Capturer
	flows     *keylock.Set
	notifier  ReviewNotifier
	metrics   *metrics.FlowMetrics
	logger    *logging.Logger
}

type Option func(*Service)

func WithNotifier(n ReviewNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.FlowMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(generator DraftGenerator, messenger Messenger, machine *approval.Machine, capturer *learning.Capturer, opts ...Option) *Service {
	if generator == nil || messenger == nil || machine == nil || capturer == nil {
		panic("hitl: generator, messenger, machine and capturer are required")
	}
	s := &Service{
		generator: generator,
		messenger: messenger,
		machine:   machine,
		capturer:  capturer,
		flows:     keylock.New(),
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAndPostDraft drafts a reply, posts it as a private note and opens a
// cx_reply approval for it. The approval only exists once the note is posted.
func (s *Service) GenerateAndPostDraft(ctx context.Context, req DraftRequest) (DraftResult, error) {
	ctx, span := tracer.Start(ctx, "hitl.generate_and_post_draft",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)))
	defer span.End()
	start := time.Now()

	res, err := s.generateAndPost(ctx, req)
	step := StepComplete
	if err != nil {
		var se *StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(step))
	}
	s.metrics.ObserveResult(flowDraft, string(step), err == nil, time.Since(start).Seconds())
	return res, err
}

func (s *Service) generateAndPost(ctx context.Context, req DraftRequest) (DraftResult, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return DraftResult{}, &StepError{Step: StepGenerateDraft, Err: errors.New("conversation id required")}
	}
	draft, err := s.generator.Generate(ctx, req)
	if err != nil {
		return DraftResult{}, &StepError{Step: StepGenerateDraft, Err: err}
	}
	if strings.TrimSpace(draft.SuggestedReply) == "" {
		return DraftResult{}, &StepError{Step: StepGenerateDraft, Err: errors.New("generator returned an empty reply")}
	}
	if draft.RAGSources == nil {
		draft.RAGSources = []string{}
	}

	noteID, err := s.messenger.PostPrivateNote(ctx, req.ConversationID, FormatDraftNote(draft))
	if err != nil {
		return DraftResult{}, &StepError{Step: StepPostNote, Err: err}
	}

	a, err := s.machine.CreateForReview(ctx, replyApproval(req, draft, noteID))
	if err != nil {
		return DraftResult{}, &StepError{Step: StepCreateApproval, Err: err}
	}

	if s.notifier != nil {
		if err := s.notifier.ApprovalPending(ctx, a); err != nil {
			s.logger.Warn("failed to notify reviewers", "approval_id", a.ID, "conversation_id", req.ConversationID, "error", err)
		}
	}

	s.logger.Info("draft posted for review",
		"conversation_id", req.ConversationID,
		"approval_id", a.ID,
		"private_note_id", noteID,
		"confidence", draft.Confidence,
	)
	return DraftResult{Draft: draft, PrivateNoteID: noteID, ApprovalID: a.ID}, nil
}

// ApproveAndSendReply approves the draft's approval, sends finalReply to the
// customer, then records the learning signal and walks the approval to learned.
//
// The flow resumes from the approval's stored state, so a caller can retry
// after any failed step. Once applied, the reply is never sent again.
func (s *Service) ApproveAndSendReply(ctx context.Context, conversationID, finalReply string, g learning.Grading, md DraftMetadata) FlowResult {
	ctx, span := tracer.Start(ctx, "hitl.approve_and_send_reply", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("approval.id", md.ApprovalID),
	))
	defer span.End()
	start := time.Now()

	res := s.approveAndSend(ctx, conversationID, finalReply, g, md)
	s.finish(span, flowApprove, res, start)
	return res
}

func (s *Service) approveAndSend(ctx context.Context, conversationID, finalReply string, g learning.Grading, md DraftMetadata) FlowResult {
	res := FlowResult{ApprovalID: md.ApprovalID}
	fail := func(step Step, err error) FlowResult {
		res.Step = step
		res.Error = err.Error()
		s.logger.Error("approval flow failed",
			"conversation_id", conversationID,
			"approval_id", md.ApprovalID,
			"step", string(step),
			"error", err,
		)
		return res
	}

	if md.ApprovalID == "" {
		return fail(StepApprove, ErrMissingApprovalID)
	}
	// Concurrent retries of one approval queue here, so only one can send.
	unlock := s.flows.Lock(md.ApprovalID)
	defer unlock()

	if strings.TrimSpace(finalReply) == "" {
		return fail(StepApprove, errors.New("hitl: final reply is empty"))
	}
	if err := g.Validate(); err != nil {
		return fail(StepApprove, err)
	}
	a, err := s.machine.Get(ctx, md.ApprovalID)
	if err != nil {
		return fail(StepApprove, err)
	}
	if a.ConversationID != "" && a.ConversationID != conversationID {
		return fail(StepApprove, fmt.Errorf("%w: approval %s belongs to %s", ErrConversationMismatch, a.ID, a.ConversationID))
	}
	switch a.State {
	case approval.StateApproved, approval.StateApplied, approval.StateAudited, approval.StateLearned:
		s.logger.Info("resuming approval flow", "approval_id", a.ID, "state", a.State)
	default:
		grades := &approval.Grades{Tone: g.Tone, Accuracy: g.Accuracy, Policy: g.Policy}
		if a, err = s.machine.Approve(ctx, md.ApprovalID, md.Reviewer, grades); err != nil {
			return fail(StepApprove, err)
		}
	}

	if a.State == approval.StateApproved {
		msgID, err := s.messenger.SendPublicReply(ctx, conversationID, finalReply)
		if err != nil {
			return fail(StepSendReply, err)
		}
		res.MessageID = msgID
		if a, err = s.machine.Apply(ctx, md.ApprovalID, md.Reviewer, msgID); err != nil {
			return fail(StepApply, err)
		}
	}
	res.MessageID = a.DeliveryRef

	if a.State == approval.StateApplied {
		signalID, err := s.captureAndPersist(ctx, conversationID, finalReply, g, md, true)
		if err != nil {
			return fail(StepCaptureLearning, err)
		}
		res.LearningSignalID = signalID
		if a, err = s.machine.Audit(ctx, md.ApprovalID, md.Reviewer, signalID); err != nil {
			return fail(StepAudit, err)
		}
	}
	res.LearningSignalID = a.LearningSignalID

	if a.State == approval.StateAudited {
		if a, err = s.machine.RecordLearning(ctx, md.ApprovalID, a.LearningSignalID); err != nil {
			return fail(StepRecordLearning, err)
		}
	}

	res.Success = true
	res.Step = StepComplete
	return res
}

// RejectAndCaptureLearning records that a reviewer wrote their own reply
// instead. Nothing is sent to the customer.
func (s *Service) RejectAndCaptureLearning(ctx context.Context, conversationID, manualReply string, g learning.Grading, md DraftMetadata) FlowResult {
	ctx, span := tracer.Start(ctx, "hitl.reject_and_capture_learning", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("approval.id", md.ApprovalID),
	))
	defer span.End()
	start := time.Now()

	res := FlowResult{ApprovalID: md.ApprovalID}
	if err := g.Validate(); err != nil {
		res.Step, res.Error = StepCaptureLearning, err.Error()
		s.finish(span, flowReject, res, start)
		return res
	}
	if md.ApprovalID != "" {
		if _, err := s.machine.Reject(ctx, md.ApprovalID, md.Reviewer, RejectionReason); err != nil {
			res.Step, res.Error = StepReject, err.Error()
			s.finish(span, flowReject, res, start)
			return res
		}
	}
	signalID, err := s.captureAndPersist(ctx, conversationID, manualReply, g, md, false)
	if err != nil {
		res.Step, res.Error = StepCaptureLearning, err.Error()
		s.finish(span, flowReject, res, start)
		return res
	}
	res.Success, res.Step, res.LearningSignalID = true, StepComplete, signalID
	s.finish(span, flowReject, res, start)
	return res
}

// ExecuteFullApprovalFlow drafts and then immediately approves with the
// reviewer's data. A failed draft yields a single failed result.
func (s *Service) ExecuteFullApprovalFlow(ctx context.Context, req DraftRequest, data ApprovalData) []FlowResult {
	draft, err := s.GenerateAndPostDraft(ctx, req)
	if err != nil {
		step := StepGenerateDraft
		var se *StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		return []FlowResult{{Step: step, Error: err.Error()}}
	}
	results := []FlowResult{{
		Success:    true,
		Step:       StepPostNote,
		ApprovalID: draft.ApprovalID,
		MessageID:  draft.PrivateNoteID,
	}}

	md := draft.Metadata(req.LastCustomerMessage())
	md.Reviewer = data.Reviewer
	finalReply := data.FinalReply
	if strings.TrimSpace(finalReply) == "" {
		finalReply = draft.Draft.SuggestedReply
	}
	return append(results, s.ApproveAndSendReply(ctx, req.ConversationID, finalReply, data.Grading, md))
}

func (s *Service) captureAndPersist(ctx context.Context, conversationID, humanReply string, g learning.Grading, md DraftMetadata, approved bool) (string, error) {
	sig, err := s.capturer.Capture(conversationID, md.DraftReply, humanReply, g, learning.Metadata{
		ApprovalID:      md.ApprovalID,
		CustomerMessage: md.CustomerMessage,
		RAGSources:      md.RAGSources,
		Confidence:      md.Confidence,
		Approved:        approved,
		GradedBy:        md.Reviewer,
	})
	if err != nil {
		return "", err
	}
	if pr := s.capturer.Persist(ctx, sig); !pr.Success {
		return "", errors.New(pr.Error)
	}
	return sig.ID, nil
}

func (s *Service) finish(span trace.Span, flow string, res FlowResult, start time.Time) {
	span.SetAttributes(attribute.String("hitl.step", string(res.Step)), attribute.Bool("hitl.success", res.Success))
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	s.metrics.ObserveResult(flow, string(res.Step), res.Success, time.Since(start).Seconds())
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/hitl"
	httpmiddleware "github.com/wolfman30/support-hitl/internal/http/middleware"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// FlowsHandler exposes the drafting and review flows.
type FlowsHandler struct {
	service *hitl.Service
	store   *contextstore.Store
	logger  *logging.Logger
}

func NewFlowsHandler(service *hitl.Service, store *contextstore.Store, logger *logging.Logger) *FlowsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FlowsHandler{service: service, store: store, logger: logger}
}

// DraftFlowRequest asks for a draft. Messages default to the stored transcript.
type DraftFlowRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []contextstore.Message `json:"messages,omitempty"`
	CustomerEmail  string                 `json:"customer_email,omitempty"`
}

// DecisionFlowRequest carries the reviewer's reply and grades for an existing draft.
type DecisionFlowRequest struct {
	ConversationID string             `json:"conversation_id"`
	Reply          string             `json:"reply"`
	Grading        learning.Grading   `json:"grading"`
	Metadata       hitl.DraftMetadata `json:"metadata"`
}

type FullFlowRequest struct {
	DraftFlowRequest
	Approval hitl.ApprovalData `json:"approval"`
}

type flowFailure struct {
	Error string    `json:"error"`
	Step  hitl.Step `json:"step"`
}

// Draft generates a draft, posts it as a private note and opens an approval.
// POST /flows/draft
func (h *FlowsHandler) Draft(w http.ResponseWriter, r *http.Request) {
	var req DraftFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	draftReq, ok := h.draftRequest(w, r, req)
	if !ok {
		return
	}
	res, err := h.service.GenerateAndPostDraft(r.Context(), draftReq)
	if err != nil {
		step := hitl.StepGenerateDraft
		var se *hitl.StepError
		if errors.As(err, &se) {
			step = se.Step
		}
		writeJSON(w, http.StatusBadGateway, flowFailure{Error: err.Error(), Step: step})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Approve approves the draft and sends the final reply.
// POST /flows/approve
func (h *FlowsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decisionRequest(w, r)
	if !ok {
		return
	}
	res := h.service.ApproveAndSendReply(r.Context(), req.ConversationID, req.Reply, req.Grading, req.Metadata)
	writeJSON(w, flowStatus(res), res)
}

// Reject records a manual reply in place of the draft.
// POST /flows/reject
func (h *FlowsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decisionRequest(w, r)
	if !ok {
		return
	}
	res := h.service.RejectAndCaptureLearning(r.Context(), req.ConversationID, req.Reply, req.Grading, req.Metadata)
	writeJSON(w, flowStatus(res), res)
}

// Full drafts and approves in one call.
// POST /flows/full
func (h *FlowsHandler) Full(w http.ResponseWriter, r *http.Request) {
	var req FullFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	draftReq, ok := h.draftRequest(w, r, req.DraftFlowRequest)
	if !ok {
		return
	}
	data := req.Approval
	if err := data.Grading.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if reviewer := httpmiddleware.ReviewerFromContext(r.Context()); reviewer != "" {
		data.Reviewer = reviewer
	}
	results := h.service.ExecuteFullApprovalFlow(r.Context(), draftReq, data)
	status := http.StatusOK
	if last := results[len(results)-1]; !last.Success {
		status = flowStatus(last)
	}
	writeJSON(w, status, results)
}

func (h *FlowsHandler) draftRequest(w http.ResponseWriter, r *http.Request, req DraftFlowRequest) (hitl.DraftRequest, bool) {
	if strings.TrimSpace(req.ConversationID) == "" {
		jsonError(w, "conversation_id is required", http.StatusBadRequest)
		return hitl.DraftRequest{}, false
	}
	msgs := req.Messages
	email := req.CustomerEmail
	if len(msgs) == 0 && h.store != nil {
		msgs = h.store.RecentMessages(req.ConversationID, contextstore.MaxMessages)
		if c, ok := h.store.Get(req.ConversationID); ok && email == "" {
			email = c.Customer.Email
		}
	}
	if len(msgs) == 0 {
		jsonError(w, "conversation has no messages to draft against", http.StatusUnprocessableEntity)
		return hitl.DraftRequest{}, false
	}
	return hitl.DraftRequest{
		ConversationID: req.ConversationID,
		Messages:       msgs,
		CustomerEmail:  email,
		RequestedBy:    httpmiddleware.ReviewerFromContext(r.Context()),
	}, true
}

func (h *FlowsHandler) decisionRequest(w http.ResponseWriter, r *http.Request) (DecisionFlowRequest, bool) {
	var req DecisionFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		jsonError(w, "conversation_id is required", http.StatusBadRequest)
		return req, false
	}
	if err := req.Grading.Validate(); err != nil {
		writeError(w, err)
		return req, false
	}
	if reviewer := httpmiddleware.ReviewerFromContext(r.Context()); reviewer != "" {
		req.Metadata.Reviewer = reviewer
	}
	return req, true
}

// flowStatus reports lifecycle refusals as 409 and collaborator failures as 502.
func flowStatus(res hitl.FlowResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Step == hitl.StepApprove, res.Step == hitl.StepReject:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

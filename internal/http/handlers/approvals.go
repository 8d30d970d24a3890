package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/support-hitl/internal/approval"
	httpmiddleware "github.com/wolfman30/support-hitl/internal/http/middleware"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// ApprovalsHandler drives the approval lifecycle.
type ApprovalsHandler struct {
	machine *approval.Machine
	logger  *logging.Logger
}

func NewApprovalsHandler(machine *approval.Machine, logger *logging.Logger) *ApprovalsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ApprovalsHandler{machine: machine, logger: logger}
}

type ApproveRequest struct {
	Grades *approval.Grades `json:"grades,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type RequestChangesRequest struct {
	Note string `json:"note"`
}

// Create stores a new approval in draft. The caller becomes created_by when authenticated.
// POST /approvals
func (h *ApprovalsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var d approval.Draft
	if err := decodeJSON(w, r, &d); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if reviewer := httpmiddleware.ReviewerFromContext(r.Context()); reviewer != "" {
		d.CreatedBy = reviewer
	}
	a, err := h.machine.Create(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Get returns one approval.
// GET /approvals/{id}
func (h *ApprovalsHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// List filters approvals by state and conversation.
// GET /approvals?state=&conversation_id=&limit=
func (h *ApprovalsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := approval.ListFilter{
		State:          approval.State(q.Get("state")),
		ConversationID: q.Get("conversation_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	list, err := h.machine.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*approval.Approval{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Submit moves a draft into review.
// POST /approvals/{id}/submit
func (h *ApprovalsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "submit")(h.machine.SubmitForReview(r.Context(), chi.URLParam(r, "id"), actor(r)))
}

// Approve applies the gate and records optional grades.
// POST /approvals/{id}/approve
func (h *ApprovalsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.respond(w, r, "approve")(h.machine.Approve(r.Context(), chi.URLParam(r, "id"), actor(r), req.Grades))
}

// Reject returns the approval to draft.
// POST /approvals/{id}/reject
func (h *ApprovalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		jsonError(w, "reason is required", http.StatusBadRequest)
		return
	}
	h.respond(w, r, "reject")(h.machine.Reject(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason))
}

// RequestChanges returns the approval to draft with a note.
// POST /approvals/{id}/request-changes
func (h *ApprovalsHandler) RequestChanges(w http.ResponseWriter, r *http.Request) {
	var req RequestChangesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Note == "" {
		jsonError(w, "note is required", http.StatusBadRequest)
		return
	}
	h.respond(w, r, "request_changes")(h.machine.RequestChanges(r.Context(), chi.URLParam(r, "id"), actor(r), req.Note))
}

// Validate runs the dry-run checks and stores the problems found.
// POST /approvals/{id}/validate
func (h *ApprovalsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "validate")(h.machine.RunValidation(r.Context(), chi.URLParam(r, "id"), actor(r)))
}

func (h *ApprovalsHandler) respond(w http.ResponseWriter, r *http.Request, op string) func(*approval.Approval, error) {
	return func(a *approval.Approval, err error) {
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				h.logger.Error("approval operation failed", "op", op, "approval_id", chi.URLParam(r, "id"), "error", err)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func actor(r *http.Request) string {
	return httpmiddleware.ReviewerFromContext(r.Context())
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/handoff"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// ConversationsHandler serves conversation context and handoff decisions.
type ConversationsHandler struct {
	store    *contextstore.Store
	engine   *handoff.Engine
	recorder *handoff.Recorder
	catalog  *handoff.Catalog
	logger   *logging.Logger
	now      func() time.Time
}

func NewConversationsHandler(store *contextstore.Store, engine *handoff.Engine, recorder *handoff.Recorder, catalog *handoff.Catalog, logger *logging.Logger) *ConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if catalog == nil {
		catalog = handoff.DefaultCatalog()
	}
	return &ConversationsHandler{
		store:    store,
		engine:   engine,
		recorder: recorder,
		catalog:  catalog,
		logger:   logger,
		now:      time.Now,
	}
}

// AppendMessageRequest adds one turn and optionally updates the classified fields.
type AppendMessageRequest struct {
	Role      contextstore.Role           `json:"role"`
	Content   string                      `json:"content"`
	Metadata  map[string]any              `json:"metadata,omitempty"`
	Customer  *contextstore.CustomerPatch `json:"customer,omitempty"`
	Intent    *string                     `json:"intent,omitempty"`
	Sentiment string                      `json:"sentiment,omitempty"`
	Urgency   string                      `json:"urgency,omitempty"`
}

// HandoffRequest carries optional customer value for escalation checks.
type HandoffRequest struct {
	Customer *handoff.CustomerValue `json:"customer,omitempty"`
}

type HandoffResponse struct {
	Decision         handoff.Decision      `json:"decision"`
	Escalation       handoff.Escalation    `json:"escalation"`
	RecommendedAgent string                `json:"recommended_agent,omitempty"`
	Recorded         handoff.HandoffMetric `json:"recorded"`
}

// OutcomeRequest labels a recorded decision.
type OutcomeRequest struct {
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Correct        bool      `json:"correct"`
}

// GetContext returns the stored context.
// GET /conversations/{id}/context
func (h *ConversationsHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.store.Get(id)
	if !ok {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AppendMessage stores a turn, creating the conversation if needed.
// POST /conversations/{id}/messages
func (h *ConversationsHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AppendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		jsonError(w, "content is required", http.StatusBadRequest)
		return
	}

	var (
		sentiment contextstore.Sentiment
		urgency   contextstore.Urgency
		err       error
	)
	if req.Sentiment != "" {
		if sentiment, err = contextstore.ParseSentiment(req.Sentiment); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Urgency != "" {
		if urgency, err = contextstore.ParseUrgency(req.Urgency); err != nil {
			writeError(w, err)
			return
		}
	}

	msg, err := h.store.AppendMessage(id, contextstore.MessageInput{Role: req.Role, Content: req.Content, Metadata: req.Metadata})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Customer != nil {
		h.store.UpdateCustomer(id, *req.Customer)
	}
	if req.Intent != nil {
		h.store.SetIntent(id, *req.Intent)
	}
	if sentiment != "" {
		_ = h.store.SetSentiment(id, sentiment)
	}
	if urgency != "" {
		_ = h.store.SetUrgency(id, urgency)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// RecentMessages returns the last n messages, oldest first.
// GET /conversations/{id}/messages?n=
func (h *ConversationsHandler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n := contextstore.MaxMessages
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			jsonError(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	msgs := h.store.RecentMessages(id, n)
	if msgs == nil {
		msgs = []contextstore.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": msgs})
}

// Summary returns the prompt-ready summary.
// GET /conversations/{id}/summary
func (h *ConversationsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.store.Get(id); !ok {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id, "summary": h.store.Summarize(id)})
}

// DecideHandoff evaluates the rules, records the decision and checks escalation.
// POST /conversations/{id}/handoff
func (h *ConversationsHandler) DecideHandoff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req HandoffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := h.store.Get(id)
	if !ok {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}

	decision, recorded := h.recorder.Evaluate(r.Context(), id, h.engine, c)
	resp := HandoffResponse{
		Decision:   decision,
		Escalation: handoff.CheckEscalation(c, req.Customer, h.now()),
		Recorded:   recorded,
	}
	if agent, ok := h.catalog.RecommendedAgent(c.Intent); ok {
		resp.RecommendedAgent = agent
	}
	if resp.Escalation.ShouldEscalate {
		h.logger.Warn("conversation needs escalation",
			"conversation_id", id,
			"priority", resp.Escalation.Priority,
			"assign_to", resp.Escalation.AssignTo,
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Report summarizes recorded decisions.
// GET /handoff/report?since=24h
func (h *ConversationsHandler) Report(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			jsonError(w, "since must be a positive duration", http.StatusBadRequest)
			return
		}
		since = h.now().Add(-d)
	}
	writeJSON(w, http.StatusOK, h.recorder.Report(since))
}

// Recent lists the newest recorded decisions.
// GET /handoff/recent?n=
func (h *ConversationsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	if n <= 0 {
		n = 50
	}
	writeJSON(w, http.StatusOK, h.recorder.Recent(n))
}

// MarkOutcome labels a past decision as correct or not.
// POST /handoff/outcomes
func (h *ConversationsHandler) MarkOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || req.Timestamp.IsZero() {
		jsonError(w, "conversation_id and timestamp are required", http.StatusBadRequest)
		return
	}
	if err := h.recorder.MarkOutcome(req.ConversationID, req.Timestamp, req.Correct); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Agents lists the agent catalog.
// GET /handoff/agents
func (h *ConversationsHandler) Agents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Agents())
}

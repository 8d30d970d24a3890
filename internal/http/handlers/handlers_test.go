package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/handoff"
	"github.com/wolfman30/support-hitl/internal/hitl"
	httpmiddleware "github.com/wolfman30/support-hitl/internal/http/middleware"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

type testEnv struct {
	router    chi.Router
	store     *contextstore.Store
	machine   *approval.Machine
	messenger *hitl.LogMessenger
	signals   *learning.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewWithWriter(io.Discard, "error")
	env := &testEnv{
		store:     contextstore.New(contextstore.WithLogger(logger)),
		machine:   approval.NewMachine(nil, approval.WithLogger(logger)),
		messenger: hitl.NewLogMessenger(logger),
		signals:   learning.NewMemoryStore(),
	}
	svc := hitl.NewService(
		hitl.StubDraftGenerator{Reply: "It ships tomorrow.", Confidence: 0.9},
		env.messenger,
		env.machine,
		learning.NewCapturer(env.signals, learning.WithLogger(logger)),
		hitl.WithLogger(logger),
	)
	conversations := NewConversationsHandler(env.store, handoff.NewDefaultEngine(), handoff.NewRecorder(100), nil, logger)
	approvals := NewApprovalsHandler(env.machine, logger)
	flows := NewFlowsHandler(svc, env.store, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if who := req.Header.Get("X-Test-Reviewer"); who != "" {
				req = req.WithContext(httpmiddleware.WithReviewer(req.Context(), who))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/context", conversations.GetContext)
		r.Get("/messages", conversations.RecentMessages)
		r.Post("/messages", conversations.AppendMessage)
		r.Get("/summary", conversations.Summary)
		r.Post("/handoff", conversations.DecideHandoff)
	})
	r.Get("/handoff/report", conversations.Report)
	r.Post("/handoff/outcomes", conversations.MarkOutcome)
	r.Get("/agents", conversations.Agents)
	r.Get("/approvals", approvals.List)
	r.Post("/approvals", approvals.Create)
	r.Route("/approvals/{id}", func(r chi.Router) {
		r.Get("/", approvals.Get)
		r.Post("/submit", approvals.Submit)
		r.Post("/approve", approvals.Approve)
		r.Post("/reject", approvals.Reject)
		r.Post("/request-changes", approvals.RequestChanges)
		r.Post("/validate", approvals.Validate)
	})
	r.Post("/flows/draft", flows.Draft)
	r.Post("/flows/approve", flows.Approve)
	r.Post("/flows/reject", flows.Reject)
	r.Post("/flows/full", flows.Full)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, reviewer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if reviewer != "" {
		req.Header.Set("X-Test-Reviewer", reviewer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAppendMessageAndReadBack(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/conversations/c1/messages", map[string]any{
		"role":      "user",
		"content":   "Where is my order #4411?",
		"intent":    "order_status",
		"sentiment": "negative",
		"customer":  map[string]any{"email": "ana@example.com"},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/conversations/c1/context", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[contextstore.Context](t, rec)
	assert.Equal(t, "order_status", c.Intent)
	assert.Equal(t, contextstore.SentimentNegative, c.Sentiment)
	assert.Equal(t, "ana@example.com", c.Customer.Email)
	require.Len(t, c.Messages, 1)

	rec = env.do(t, http.MethodGet, "/conversations/c1/messages?n=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Where is my order")
}

func TestAppendMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/conversations/c1/messages", map[string]any{"role": "user"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/conversations/c1/messages", map[string]any{"role": "robot", "content": "hi"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/conversations/c1/messages", map[string]any{"role": "user", "content": "hi", "urgency": "whenever"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/conversations/c1/messages?n=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/conversations/nope/context", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/conversations/nope/summary", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/conversations/nope/handoff", nil, "").Code)
}

func TestDecideHandoffRoutesOrderIssues(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c2/messages", map[string]any{
		"role":      "user",
		"content":   "My package never arrived and I'm furious",
		"intent":    "order_status",
		"sentiment": "negative",
	}, "")

	rec := env.do(t, http.MethodPost, "/conversations/c2/handoff", map[string]any{}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[HandoffResponse](t, rec)
	assert.True(t, resp.Decision.ShouldHandoff)
	assert.Equal(t, handoff.AgentOrderSupport, resp.Decision.TargetAgent)
	assert.True(t, resp.Escalation.ShouldEscalate)

	rec = env.do(t, http.MethodGet, "/handoff/report", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), handoff.AgentOrderSupport)
}

func replyDraft() approval.Draft {
	return approval.Draft{
		Kind:     approval.KindCXReply,
		Summary:  "Reply to shipping question",
		Evidence: approval.Evidence{Samples: []string{"It ships tomorrow."}},
		Rollback: approval.Rollback{Steps: []string{"send a correction"}},
		Actions:  []approval.Action{{Endpoint: "messaging.send_public_reply", DryRunStatus: approval.DryRunPassed}},
	}
}

func TestApprovalLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/approvals", replyDraft(), "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[approval.Approval](t, rec)
	assert.Equal(t, approval.StateDraft, created.State)
	assert.Equal(t, "alice", created.CreatedBy)

	base := "/approvals/" + created.ID
	rec = env.do(t, http.MethodPost, base+"/submit", nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, base+"/validate", nil, "bob")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[approval.Approval](t, rec).ValidationErrors)

	rec = env.do(t, http.MethodPost, base+"/approve", ApproveRequest{Grades: &approval.Grades{Tone: 5, Accuracy: 4, Policy: 5}}, "bob")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[approval.Approval](t, rec)
	assert.Equal(t, approval.StateApproved, approved.State)
	assert.Equal(t, "bob", approved.Reviewer)

	rec = env.do(t, http.MethodPost, base+"/approve", ApproveRequest{}, "bob")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/approvals?state=approved", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]approval.Approval](t, rec), 1)
}

func TestApproveGateFailuresAreReported(t *testing.T) {
	env := newTestEnv(t)
	d := replyDraft()
	d.Rollback = approval.Rollback{}
	a, err := env.machine.Create(context.Background(), d)
	require.NoError(t, err)
	_, err = env.machine.SubmitForReview(context.Background(), a.ID, "alice")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/approvals/"+a.ID+"/approve", ApproveRequest{}, "bob")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Contains(t, resp.Failures, approval.FailureMissingRollback)
}

func TestRejectAndRequestChangesNeedText(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.machine.Create(context.Background(), replyDraft())
	require.NoError(t, err)
	_, err = env.machine.SubmitForReview(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	base := "/approvals/" + a.ID

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, base+"/reject", RejectRequest{}, "bob").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, base+"/request-changes", RequestChangesRequest{}, "bob").Code)

	rec := env.do(t, http.MethodPost, base+"/request-changes", RequestChangesRequest{Note: "soften the tone"}, "bob")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[approval.Approval](t, rec)
	assert.Equal(t, approval.StateDraft, got.State)
	assert.Equal(t, "soften the tone", got.ChangeRequest)
}

func TestApprovalNotFound(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/approvals/missing", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/approvals/missing/submit", nil, "").Code)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	d := replyDraft()
	d.Kind = "payroll"
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/approvals", d, "").Code)
}

func TestDraftFlowUsesStoredTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c3/messages", map[string]any{"role": "user", "content": "When will it ship?"}, "")

	rec := env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "c3"}, "carol")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[hitl.DraftResult](t, rec)
	assert.NotEmpty(t, res.ApprovalID)
	assert.Equal(t, "It ships tomorrow.", res.Draft.SuggestedReply)

	a, err := env.machine.Get(context.Background(), res.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatePendingReview, a.State)
	assert.Equal(t, int64(1), env.messenger.Sent())
}

func TestDraftFlowNeedsMessages(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{}, "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "empty"}, "").Code)
}

func TestApproveFlowOverridesReviewer(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c4/messages", map[string]any{"role": "user", "content": "Any update?"}, "")
	draft := decode[hitl.DraftResult](t, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "c4"}, ""))

	md := draft.Metadata("Any update?")
	md.Reviewer = "spoofed"
	rec := env.do(t, http.MethodPost, "/flows/approve", DecisionFlowRequest{
		ConversationID: "c4",
		Reply:          "It ships tomorrow morning.",
		Grading:        learning.Grading{Tone: 5, Accuracy: 5, Policy: 5},
		Metadata:       md,
	}, "dana")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[hitl.FlowResult](t, rec)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)

	a, err := env.machine.Get(context.Background(), draft.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StateLearned, a.State)
	assert.Equal(t, "dana", a.Reviewer)
	assert.Len(t, env.signals.Signals(), 1)
}

func TestApproveFlowRetryReturnsStoredResult(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c5/messages", map[string]any{"role": "user", "content": "Refund?"}, "")
	draft := decode[hitl.DraftResult](t, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "c5"}, ""))
	body := DecisionFlowRequest{
		ConversationID: "c5",
		Reply:          "Refund issued.",
		Grading:        learning.Grading{Tone: 4, Accuracy: 4, Policy: 4},
		Metadata:       draft.Metadata("Refund?"),
	}
	first := env.do(t, http.MethodPost, "/flows/approve", body, "erin")
	require.Equal(t, http.StatusOK, first.Code)

	rec := env.do(t, http.MethodPost, "/flows/approve", body, "erin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, decode[hitl.FlowResult](t, first).MessageID, decode[hitl.FlowResult](t, rec).MessageID)
	assert.EqualValues(t, 2, env.messenger.Sent())
	assert.Len(t, env.signals.Signals(), 1)

	rec = env.do(t, http.MethodPost, "/flows/reject", body, "erin")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, hitl.StepReject, decode[hitl.FlowResult](t, rec).Step)
}

func TestApproveFlowAfterLifecycleApprove(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c7/messages", map[string]any{"role": "user", "content": "Is it in stock?"}, "")
	draft := decode[hitl.DraftResult](t, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "c7"}, ""))

	rec := env.do(t, http.MethodPost, "/approvals/"+draft.ApprovalID+"/approve", ApproveRequest{}, "erin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/flows/approve", DecisionFlowRequest{
		ConversationID: "c7",
		Reply:          "Yes, it is in stock.",
		Grading:        learning.Grading{Tone: 5, Accuracy: 5, Policy: 5},
		Metadata:       draft.Metadata("Is it in stock?"),
	}, "erin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	a, err := env.machine.Get(context.Background(), draft.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StateLearned, a.State)
	assert.NotEmpty(t, a.DeliveryRef)
}

func TestRejectFlowCapturesManualReply(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations/c6/messages", map[string]any{"role": "user", "content": "Cancel please"}, "")
	draft := decode[hitl.DraftResult](t, env.do(t, http.MethodPost, "/flows/draft", DraftFlowRequest{ConversationID: "c6"}, ""))

	rec := env.do(t, http.MethodPost, "/flows/reject", DecisionFlowRequest{
		ConversationID: "c6",
		Reply:          "Your order is cancelled and refunded.",
		Grading:        learning.Grading{Tone: 2, Accuracy: 1, Policy: 3},
		Metadata:       draft.Metadata("Cancel please"),
	}, "frank")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[hitl.FlowResult](t, rec).LearningSignalID)

	a, err := env.machine.Get(context.Background(), draft.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, approval.StateDraft, a.State)
	assert.Equal(t, hitl.RejectionReason, a.RejectionReason)
}

func TestFullFlow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/flows/full", FullFlowRequest{
		DraftFlowRequest: DraftFlowRequest{
			ConversationID: "c7",
			Messages:       []contextstore.Message{{Role: contextstore.RoleUser, Content: "Is it in stock?"}},
		},
		Approval: hitl.ApprovalData{Grading: learning.Grading{Tone: 5, Accuracy: 5, Policy: 5}},
	}, "gina")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]hitl.FlowResult](t, rec)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestFlowStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, flowStatus(hitl.FlowResult{Success: true}))
	assert.Equal(t, http.StatusConflict, flowStatus(hitl.FlowResult{Step: hitl.StepApprove}))
	assert.Equal(t, http.StatusBadGateway, flowStatus(hitl.FlowResult{Step: hitl.StepSendReply}))
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	Health(map[string]Pinger{"postgres": ok})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Health(map[string]Pinger{"postgres": ok, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestFlowsRejectBadGrading(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/flows/approve", DecisionFlowRequest{
		ConversationID: "c8",
		Reply:          "ok",
		Grading:        learning.Grading{Tone: 9, Accuracy: 1, Policy: 1},
		Metadata:       hitl.DraftMetadata{ApprovalID: "a-1"},
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/flows/full", FullFlowRequest{
		DraftFlowRequest: DraftFlowRequest{ConversationID: "c8", Messages: []contextstore.Message{{Role: contextstore.RoleUser, Content: "hi"}}},
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, env.messenger.Sent())
}

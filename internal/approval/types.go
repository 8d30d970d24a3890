package approval

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind classifies what an approval changes.
type Kind string

const (
	KindCXReply   Kind = "cx_reply"
	KindInventory Kind = "inventory"
	KindGrowth    Kind = "growth"
	KindMisc      Kind = "misc"
)

func (k Kind) valid() bool {
	switch k {
	case KindCXReply, KindInventory, KindGrowth, KindMisc:
		return true
	}
	return false
}

// State is a lifecycle position.
type State string

const (
	StateDraft         State = "draft"
	StatePendingReview State = "pending_review"
	StateApproved      State = "approved"
	StateApplied       State = "applied"
	StateAudited       State = "audited"
	StateLearned       State = "learned"
)

// Event drives a transition.
type Event string

const (
	EventCreate          Event = "create"
	EventSubmitForReview Event = "submit_for_review"
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventRequestChanges  Event = "request_changes"
	EventApply           Event = "apply"
	EventAudit           Event = "audit"
	EventRecordLearning  Event = "record_learning"
)

var (
	ErrNotFound          = errors.New("approval: not found")
	ErrInvalidTransition = errors.New("approval: invalid transition")
	ErrVersionConflict   = errors.New("approval: version conflict")
	ErrInvalidKind       = errors.New("approval: invalid kind")
	ErrInvalidGrades     = errors.New("approval: grades must be between 1 and 5")
)

type Evidence struct {
	WhatChanges    string   `json:"what_changes,omitempty"`
	WhyNow         string   `json:"why_now,omitempty"`
	ImpactForecast string   `json:"impact_forecast,omitempty"`
	Diffs          []string `json:"diffs,omitempty"`
	Samples        []string `json:"samples,omitempty"`
	Queries        []string `json:"queries,omitempty"`
	Screenshots    []string `json:"screenshots,omitempty"`
}

// supported reports whether there is concrete material a reviewer can check.
func (e Evidence) supported() bool {
	return len(e.Diffs) > 0 || len(e.Samples) > 0 || len(e.Queries) > 0
}

func (e Evidence) present() bool {
	return e.supported() || len(e.Screenshots) > 0 || e.WhatChanges != ""
}

type Impact struct {
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	MetricsAffected []string `json:"metrics_affected,omitempty"`
	UserExperience  string   `json:"user_experience,omitempty"`
	BusinessValue   string   `json:"business_value,omitempty"`
}

type Risk struct {
	WhatCouldGoWrong string `json:"what_could_go_wrong,omitempty"`
	RecoveryTime     string `json:"recovery_time,omitempty"`
}

type Rollback struct {
	Steps            []string `json:"steps"`
	ArtifactLocation string   `json:"artifact_location,omitempty"`
}

// DryRunStatus is the outcome of validating an action without executing it.
type DryRunStatus string

const (
	DryRunPending DryRunStatus = "pending"
	DryRunPassed  DryRunStatus = "passed"
	DryRunFailed  DryRunStatus = "failed"
)

// Action is a side effect executed when the approval is applied.
type Action struct {
	Endpoint     string          `json:"endpoint"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	DryRunStatus DryRunStatus    `json:"dry_run_status,omitempty"`
}

// Grades are the reviewer's 1-5 scores.
type Grades struct {
	Tone     int `json:"tone"`
	Accuracy int `json:"accuracy"`
	Policy   int `json:"policy"`
}

func (g Grades) valid() bool {
	for _, v := range []int{g.Tone, g.Accuracy, g.Policy} {
		if v < 1 || v > 5 {
			return false
		}
	}
	return true
}

// Receipt is one link of the approval's hash-chained audit trail.
type Receipt struct {
	Sequence int       `json:"sequence"`
	Event    Event     `json:"event"`
	From     State     `json:"from,omitempty"`
	To       State     `json:"to"`
	Actor    string    `json:"actor,omitempty"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
	PrevHash string    `json:"prev_hash,omitempty"`
	Hash     string    `json:"hash"`
}

// Approval is a reviewable change and its lifecycle.
type Approval struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	State            State     `json:"state"`
	Summary          string    `json:"summary"`
	CreatedBy        string    `json:"created_by"`
	Reviewer         string    `json:"reviewer,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	Evidence         Evidence  `json:"evidence"`
	Impact           Impact    `json:"impact"`
	Risk             Risk      `json:"risk"`
	Rollback         Rollback  `json:"rollback"`
	Actions          []Action  `json:"actions"`
	Receipts         []Receipt `json:"receipts"`
	ValidationErrors []string  `json:"validation_errors"`
	RejectionReason  string    `json:"rejection_reason,omitempty"`
	ChangeRequest    string    `json:"change_request,omitempty"`
	Grades           *Grades   `json:"grades,omitempty"`
	LearningSignalID string    `json:"learning_signal_id,omitempty"`
	DeliveryRef      string    `json:"delivery_ref,omitempty"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	out := *a
	out.Evidence.Diffs = cloneStrings(a.Evidence.Diffs)
	out.Evidence.Samples = cloneStrings(a.Evidence.Samples)
	out.Evidence.Queries = cloneStrings(a.Evidence.Queries)
	out.Evidence.Screenshots = cloneStrings(a.Evidence.Screenshots)
	out.Impact.MetricsAffected = cloneStrings(a.Impact.MetricsAffected)
	out.Rollback.Steps = cloneStrings(a.Rollback.Steps)
	out.ValidationErrors = cloneStrings(a.ValidationErrors)
	out.Receipts = make([]Receipt, len(a.Receipts))
	copy(out.Receipts, a.Receipts)
	out.Actions = make([]Action, len(a.Actions))
	for i, act := range a.Actions {
		if act.Payload != nil {
			act.Payload = append(json.RawMessage(nil), act.Payload...)
		}
		out.Actions[i] = act
	}
	if a.Grades != nil {
		g := *a.Grades
		out.Grades = &g
	}
	return &out
}

// Draft is the input for creating an approval.
type Draft struct {
	Kind           Kind     `json:"kind"`
	Summary        string   `json:"summary"`
	CreatedBy      string   `json:"created_by"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Evidence       Evidence `json:"evidence"`
	Impact         Impact   `json:"impact"`
	Risk           Risk     `json:"risk"`
	Rollback       Rollback `json:"rollback"`
	Actions        []Action `json:"actions"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

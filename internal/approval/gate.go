package approval

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGateRejected matches every *GateError.
var ErrGateRejected = errors.New("approval: gate rejected")

// GateFailure names one unmet approval requirement.
type GateFailure string

const (
	FailureMissingEvidence  GateFailure = "missing_evidence"
	FailureMissingRollback  GateFailure = "missing_rollback"
	FailureValidationFailed GateFailure = "validation_failed"
)

// GateError lists every requirement a transition failed.
type GateError struct {
	Event    Event
	Failures []GateFailure
}

func (e *GateError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = string(f)
	}
	return fmt.Sprintf("approval: %s blocked: %s", e.Event, strings.Join(names, ", "))
}

func (e *GateError) Is(target error) bool {
	return target == ErrGateRejected
}

// Has reports whether f is among the failures.
func (e *GateError) Has(f GateFailure) bool {
	for _, x := range e.Failures {
		if x == f {
			return true
		}
	}
	return false
}

// approveGate checks the invariant for entering approved.
func approveGate(a *Approval) error {
	var failures []GateFailure
	if !a.Evidence.supported() {
		failures = append(failures, FailureMissingEvidence)
	}
	if len(a.Rollback.Steps) == 0 {
		failures = append(failures, FailureMissingRollback)
	}
	if len(a.ValidationErrors) > 0 {
		failures = append(failures, FailureValidationFailed)
	}
	if len(failures) == 0 {
		return nil
	}
	return &GateError{Event: EventApprove, Failures: failures}
}

func submitGate(a *Approval) error {
	if a.Evidence.present() {
		return nil
	}
	return &GateError{Event: EventSubmitForReview, Failures: []GateFailure{FailureMissingEvidence}}
}

// CheckApprovable reports whether approve would succeed right now, without mutating anything.
func CheckApprovable(a *Approval) error {
	if a == nil {
		return ErrNotFound
	}
	if a.State != StatePendingReview {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, EventApprove, a.State)
	}
	return approveGate(a)
}

// Validate performs static dry-run checks and returns human-readable problems.
func Validate(a *Approval) []string {
	problems := []string{}
	if strings.TrimSpace(a.Summary) == "" {
		problems = append(problems, "summary is required")
	}
	for i, act := range a.Actions {
		if strings.TrimSpace(act.Endpoint) == "" {
			problems = append(problems, fmt.Sprintf("action %d has no endpoint", i))
		}
		if act.DryRunStatus == DryRunFailed {
			problems = append(problems, fmt.Sprintf("action %d failed its dry run", i))
		}
	}
	if a.Kind == KindCXReply {
		hasText := false
		for _, s := range a.Evidence.Samples {
			if strings.TrimSpace(s) != "" {
				hasText = true
				break
			}
		}
		if !hasText {
			problems = append(problems, "cx_reply needs the proposed reply as a sample")
		}
	}
	for i, step := range a.Rollback.Steps {
		if strings.TrimSpace(step) == "" {
			problems = append(problems, fmt.Sprintf("rollback step %d is empty", i))
		}
	}
	return problems
}

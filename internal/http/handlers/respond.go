// Package handlers exposes the conversation, handoff, approval and flow
// operations over JSON HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/hitl"
	"github.com/wolfman30/support-hitl/internal/learning"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error    string                 `json:"error"`
	Failures []approval.GateFailure `json:"failures,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a bounded JSON body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, approval.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, approval.ErrGateRejected),
		errors.Is(err, approval.ErrInvalidKind),
		errors.Is(err, approval.ErrInvalidGrades),
		errors.Is(err, approval.ErrMissingLearningSignal),
		errors.Is(err, learning.ErrInvalidGrading),
		errors.Is(err, contextstore.ErrInvalidRole),
		errors.Is(err, contextstore.ErrInvalidSentiment),
		errors.Is(err, contextstore.ErrInvalidUrgency),
		errors.Is(err, hitl.ErrMissingApprovalID):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var gate *approval.GateError
	if errors.As(err, &gate) {
		resp.Failures = gate.Failures
	}
	writeJSON(w, statusFor(err), resp)
}

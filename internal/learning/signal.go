package learning

import (
	"errors"
	"time"
)

// ErrInvalidGrading is returned when a grade falls outside 1..5.
var ErrInvalidGrading = errors.New("learning: grades must be between 1 and 5")

// Grading holds the reviewer's scores.
type Grading struct {
	Tone     int    `json:"tone"`
	Accuracy int    `json:"accuracy"`
	Policy   int    `json:"policy"`
	Notes    string `json:"notes,omitempty"`
}

func (g Grading) Validate() error {
	for _, v := range []int{g.Tone, g.Accuracy, g.Policy} {
		if v < 1 || v > 5 {
			return ErrInvalidGrading
		}
	}
	return nil
}

// Average is the mean of the three scores.
func (g Grading) Average() float64 {
	return float64(g.Tone+g.Accuracy+g.Policy) / 3
}

// Metadata is the context a caller attaches when capturing a signal.
type Metadata struct {
	ApprovalID      string   `json:"approval_id,omitempty"`
	CustomerMessage string   `json:"customer_message,omitempty"`
	RAGSources      []string `json:"rag_sources,omitempty"`
	Confidence      float64  `json:"confidence"`
	Approved        bool     `json:"approved"`
	GradedBy        string   `json:"graded_by,omitempty"`
}

// Signal records how a human changed a drafted reply. It is immutable once captured.
type Signal struct {
	ID              string       `json:"id"`
	ConversationID  string       `json:"conversation_id"`
	ApprovalID      string       `json:"approval_id,omitempty"`
	CustomerMessage string       `json:"customer_message,omitempty"`
	DraftReply      string       `json:"draft_reply"`
	HumanReply      string       `json:"human_reply"`
	EditDistance    int          `json:"edit_distance"`
	EditRatio       float64      `json:"edit_ratio"`
	EditType        EditType     `json:"edit_type"`
	LearningType    LearningType `json:"learning_type"`
	Changes         []Change     `json:"changes"`
	Grading         Grading      `json:"grading"`
	RAGSources      []string     `json:"rag_sources"`
	Confidence      float64      `json:"confidence"`
	Approved        bool         `json:"approved"`
	GradedBy        string       `json:"graded_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// PersistResult reports the outcome of persisting one signal.
type PersistResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchError ties a failure to the signal that caused it.
type BatchError struct {
	SignalID string `json:"signal_id"`
	Error    string `json:"error"`
}

// BatchResult aggregates a BatchPersist run.
type BatchResult struct {
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors"`
}

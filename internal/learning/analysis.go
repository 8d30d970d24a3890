package learning

import (
	"strings"
	"unicode/utf8"
)

// EditType buckets how much a reviewer changed the draft.
type EditType string

const (
	EditMinor           EditType = "minor"
	EditModerate        EditType = "moderate"
	EditMajor           EditType = "major"
	EditCompleteRewrite EditType = "complete_rewrite"
)

// LearningType names what a signal teaches.
type LearningType string

const (
	LearningToneImprovement     LearningType = "tone_improvement"
	LearningFactualCorrection   LearningType = "factual_correction"
	LearningPolicyClarification LearningType = "policy_clarification"
	LearningTemplateRefinement  LearningType = "template_refinement"
	LearningNewPattern          LearningType = "new_pattern"
)

// ChangeType is the kind of a word-level change.
type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeDeletion     ChangeType = "deletion"
	ChangeModification ChangeType = "modification"
)

// Change is a positional word-level difference between draft and final reply.
type Change struct {
	Type     ChangeType `json:"type"`
	Original string     `json:"original,omitempty"`
	Revised  string     `json:"revised,omitempty"`
	Position int        `json:"position"`
}

// Analysis summarizes a draft/final pair.
type Analysis struct {
	EditDistance        int          `json:"edit_distance"`
	EditRatio           float64      `json:"edit_ratio"`
	EditType            EditType     `json:"edit_type"`
	LearningType        LearningType `json:"learning_type"`
	ShouldCreateArticle bool         `json:"should_create_article"`
	Changes             []Change     `json:"changes"`
}

// Analyze compares the draft with the reply a human actually sent.
func Analyze(draft, final string, g Grading) Analysis {
	distance := EditDistance(draft, final)
	longest := max(utf8.RuneCountInString(draft), utf8.RuneCountInString(final), 1)
	ratio := float64(distance) / float64(longest)

	lt := classifyLearning(g, ratio)
	return Analysis{
		EditDistance: distance,
		EditRatio:    ratio,
		EditType:     classifyEdit(ratio),
		LearningType: lt,
		ShouldCreateArticle: lt == LearningNewPattern ||
			(ratio >= 0.3 && g.Tone >= 4 && g.Accuracy >= 4 && g.Policy >= 4),
		Changes: wordChanges(draft, final),
	}
}

func classifyEdit(ratio float64) EditType {
	switch {
	case ratio < 0.1:
		return EditMinor
	case ratio < 0.3:
		return EditModerate
	case ratio < 0.6:
		return EditMajor
	default:
		return EditCompleteRewrite
	}
}

func classifyLearning(g Grading, ratio float64) LearningType {
	switch {
	case g.Tone <= 3 && g.Accuracy >= 4 && g.Policy >= 4:
		return LearningToneImprovement
	case g.Accuracy <= 3:
		return LearningFactualCorrection
	case g.Policy <= 3:
		return LearningPolicyClarification
	case ratio < 0.3 && g.Tone >= 4 && g.Accuracy >= 4:
		return LearningTemplateRefinement
	default:
		return LearningNewPattern
	}
}

// wordChanges walks both word lists in lockstep. It is positional, not an
// alignment, so one inserted word shows up as a run of modifications.
func wordChanges(draft, final string) []Change {
	dw, fw := strings.Fields(draft), strings.Fields(final)
	changes := []Change{}
	i, j := 0, 0
	for i < len(dw) || j < len(fw) {
		switch {
		case i >= len(dw):
			changes = append(changes, Change{Type: ChangeAddition, Revised: fw[j], Position: j})
			j++
		case j >= len(fw):
			changes = append(changes, Change{Type: ChangeDeletion, Original: dw[i], Position: i})
			i++
		case dw[i] != fw[j]:
			changes = append(changes, Change{Type: ChangeModification, Original: dw[i], Revised: fw[j], Position: i})
			i++
			j++
		default:
			i++
			j++
		}
	}
	return changes
}

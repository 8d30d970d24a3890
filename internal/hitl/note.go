package hitl

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/wolfman30/support-hitl/internal/approval"
)

var defaultRollbackSteps = []string{
	"Post a correction reply in the conversation",
	"Mark the learning signal as invalid",
}

// FormatDraftNote renders a draft as an internal note for agents.
func FormatDraftNote(d Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI draft reply (confidence %d%%)\n\n", int(math.Round(d.Confidence*100)))
	b.WriteString(strings.TrimSpace(d.SuggestedReply))
	b.WriteString("\n")
	if d.ToneAnalysis != "" {
		fmt.Fprintf(&b, "\nTone: %s", d.ToneAnalysis)
	}
	if len(d.RAGSources) > 0 {
		fmt.Fprintf(&b, "\nSources: %s", strings.Join(d.RAGSources, ", "))
	}
	if d.Risk.WhatCouldGoWrong != "" {
		fmt.Fprintf(&b, "\nRisk: %s", d.Risk.WhatCouldGoWrong)
	}
	b.WriteString("\n\nReview and approve, edit, or replace before anything is sent to the customer.")
	return b.String()
}

func riskFrom(text string) approval.Risk {
	text = strings.TrimSpace(text)
	if text == "" {
		return approval.Risk{}
	}
	return approval.Risk{WhatCouldGoWrong: text}
}

// replyApproval builds the cx_reply approval for a posted draft.
func replyApproval(req DraftRequest, d Draft, noteID string) approval.Draft {
	ev := d.Evidence
	ev.Samples = append([]string{d.SuggestedReply}, ev.Samples...)
	ev.Queries = append(append([]string{}, ev.Queries...), d.RAGSources...)
	if ev.WhatChanges == "" {
		ev.WhatChanges = "Send an AI-drafted reply to the customer"
	}
	if ev.WhyNow == "" {
		ev.WhyNow = req.LastCustomerMessage()
	}

	risk := d.Risk
	if risk.WhatCouldGoWrong == "" {
		risk.WhatCouldGoWrong = "Customer receives an inaccurate or off-tone reply"
	}
	if risk.RecoveryTime == "" {
		risk.RecoveryTime = "minutes"
	}

	payload, _ := json.Marshal(map[string]string{
		"conversation_id": req.ConversationID,
		"private_note_id": noteID,
	})
	createdBy := req.RequestedBy
	if createdBy == "" {
		createdBy = "draft-generator"
	}
	return approval.Draft{
		Kind:           approval.KindCXReply,
		Summary:        fmt.Sprintf("Reply to conversation %s", req.ConversationID),
		CreatedBy:      createdBy,
		ConversationID: req.ConversationID,
		Evidence:       ev,
		Impact: approval.Impact{
			ExpectedOutcome: "Customer question answered",
			UserExperience:  d.ToneAnalysis,
		},
		Risk:     risk,
		Rollback: approval.Rollback{Steps: append([]string{}, defaultRollbackSteps...)},
		Actions: []approval.Action{{
			Endpoint:     "messaging.send_public_reply",
			Payload:      payload,
			DryRunStatus: approval.DryRunPassed,
		}},
	}
}

package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/support-hitl/internal/approval"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// ReviewNotifier e-mails reviewers when an approval enters review.
type ReviewNotifier struct {
	sender     EmailSender
	recipients []string
	reviewURL  string
	logger     *logging.Logger
}

// NewReviewNotifier returns nil when there is no sender or nobody to notify.
func NewReviewNotifier(sender EmailSender, recipients []string, reviewURL string, logger *logging.Logger) *ReviewNotifier {
	clean := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			clean = append(clean, r)
		}
	}
	if sender == nil || len(clean) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReviewNotifier{
		sender:     sender,
		recipients: clean,
		reviewURL:  strings.TrimRight(reviewURL, "/"),
		logger:     logger,
	}
}

// ApprovalPending sends one notice to every reviewer. A partial failure still
// reaches the rest; the error names who was missed.
func (n *ReviewNotifier) ApprovalPending(ctx context.Context, a *approval.Approval) error {
	if n == nil || a == nil {
		return nil
	}
	notice := pendingNotice(a, n.reviewURL)
	notice.Recipients = append([]string(nil), n.recipients...)
	if err := n.sender.Deliver(ctx, notice); err != nil {
		if missed := Unreached(err); len(missed) > 0 && len(missed) < len(n.recipients) {
			n.logger.Warn("some reviewers not notified", "approval_id", a.ID, "missed", missed)
		}
		return err
	}
	n.logger.Info("reviewers notified", "approval_id", a.ID, "recipients", len(n.recipients))
	return nil
}

func pendingNotice(a *approval.Approval, reviewURL string) Notice {
	summary := a.Summary
	if summary == "" {
		summary = string(a.Kind) + " approval"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "An approval is waiting for review.\n\n")
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	fmt.Fprintf(&b, "Kind: %s\n", a.Kind)
	if a.ConversationID != "" {
		fmt.Fprintf(&b, "Conversation: %s\n", a.ConversationID)
	}
	if a.Kind == approval.KindCXReply && len(a.Evidence.Samples) > 0 {
		fmt.Fprintf(&b, "\nProposed reply:\n%s\n", a.Evidence.Samples[0])
	}
	if a.Risk.WhatCouldGoWrong != "" {
		fmt.Fprintf(&b, "\nRisk: %s\n", a.Risk.WhatCouldGoWrong)
	}
	link := ""
	if reviewURL != "" {
		link = reviewURL + "/approvals/" + a.ID
		fmt.Fprintf(&b, "\nReview: %s\n", link)
	}

	body := b.String()
	htmlBody := "<pre>" + html.EscapeString(body) + "</pre>"
	if link != "" {
		htmlBody += fmt.Sprintf(`<p><a href="%s">Open approval</a></p>`, html.EscapeString(link))
	}
	return Notice{
		Subject:    "Review needed: " + summary,
		Text:       body,
		HTML:       htmlBody,
		ApprovalID: a.ID,
		Kind:       string(a.Kind),
	}
}

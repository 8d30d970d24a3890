package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender delivers a notice in one API call with a personalization per
// reviewer, so no reviewer sees the others' addresses. The approval id rides
// along as a custom arg for event webhooks.
type SendGridSender struct {
	client sendGridClient
	from   *mail.Email
	logger *logging.Logger
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client sendGridClient, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{client: client, from: mail.NewEmail(cfg.FromName, cfg.FromEmail), logger: logger}
}

func (s *SendGridSender) Deliver(ctx context.Context, n Notice) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if len(n.Recipients) == 0 {
		return errNoRecipients
	}

	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = n.Subject
	for _, to := range n.Recipients {
		p := mail.NewPersonalization()
		p.AddTos(mail.NewEmail("", to))
		m.AddPersonalizations(p)
	}
	if n.Text != "" {
		m.AddContent(mail.NewContent("text/plain", n.Text))
	}
	if n.HTML != "" {
		m.AddContent(mail.NewContent("text/html", n.HTML))
	}
	m.AddCategories(reviewCategory)
	if n.Kind != "" {
		m.AddCategories(n.Kind)
	}
	if n.ApprovalID != "" {
		m.SetCustomArg("approval_id", n.ApprovalID)
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid status %d", resp.StatusCode)
	}
	if err != nil {
		// The request is all or nothing, so every reviewer missed it.
		failed := make(map[string]error, len(n.Recipients))
		for _, to := range n.Recipients {
			failed[to] = err
		}
		s.logger.Error("sendgrid review notice failed", "approval_id", n.ApprovalID, "error", err)
		return &DeliveryError{ApprovalID: n.ApprovalID, Failed: failed}
	}

	s.logger.Info("review notice sent via sendgrid", "approval_id", n.ApprovalID, "recipients", len(n.Recipients), "status", resp.StatusCode)
	return nil
}

var _ EmailSender = (*SendGridSender)(nil)

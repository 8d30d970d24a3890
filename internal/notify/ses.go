package notify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESConfig struct {
	FromEmail string
	FromName  string
}

// SESSender sends one SES message per reviewer and tags each with the
// approval, so bounces and complaints can be traced back to it.
type SESSender struct {
	client sesAPI
	from   string
	logger *logging.Logger
}

// NewSESSender returns nil without a client.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SESSender{
		client: client,
		from:   fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// Deliver attempts every recipient before reporting the failures.
func (s *SESSender) Deliver(ctx context.Context, n Notice) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	if len(n.Recipients) == 0 {
		return errNoRecipients
	}

	content := &types.EmailContent{Simple: &types.Message{
		Subject: utf8Content(n.Subject),
		Body:    &types.Body{},
	}}
	if n.Text != "" {
		content.Simple.Body.Text = utf8Content(n.Text)
	}
	if n.HTML != "" {
		content.Simple.Body.Html = utf8Content(n.HTML)
	}
	tags := []types.MessageTag{{Name: aws.String("category"), Value: aws.String(reviewCategory)}}
	if v := tagValue(n.ApprovalID); v != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("approval_id"), Value: aws.String(v)})
	}
	if v := tagValue(n.Kind); v != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("approval_kind"), Value: aws.String(v)})
	}

	failed := map[string]error{}
	for _, to := range n.Recipients {
		out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(s.from),
			Destination:      &types.Destination{ToAddresses: []string{to}},
			Content:          content,
			EmailTags:        tags,
		})
		if err != nil {
			failed[to] = err
			s.logger.Error("SES review notice failed", "approval_id", n.ApprovalID, "to", to, "error", err)
			continue
		}
		s.logger.Debug("review notice sent via SES", "approval_id", n.ApprovalID, "message_id", aws.ToString(out.MessageId))
	}
	if len(failed) > 0 {
		return &DeliveryError{ApprovalID: n.ApprovalID, Failed: failed}
	}
	s.logger.Info("review notice sent via SES", "approval_id", n.ApprovalID, "recipients", len(n.Recipients))
	return nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

var tagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// tagValue keeps to the characters SES accepts in message tags.
func tagValue(s string) string {
	return tagUnsafe.ReplaceAllString(s, "_")
}

var _ EmailSender = (*SESSender)(nil)

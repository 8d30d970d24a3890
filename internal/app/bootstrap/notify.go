package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/notify"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildEmailSender selects the reviewer email transport.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.EmailProvider {
	case "", "stub":
		return notify.NewStubEmailSender(logger), nil
	case "ses":
		if cfg.EmailFrom == "" {
			return nil, fmt.Errorf("bootstrap: EMAIL_FROM is required for ses")
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: SENDGRID_API_KEY is required for sendgrid")
		}
		return sender, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
}

// BuildReviewNotifier returns nil when no reviewers are configured.
func BuildReviewNotifier(cfg *appconfig.Config, sender notify.EmailSender, logger *logging.Logger) *notify.ReviewNotifier {
	if cfg == nil {
		return nil
	}
	return notify.NewReviewNotifier(sender, cfg.ReviewerEmails, cfg.ReviewBaseURL, logger)
}

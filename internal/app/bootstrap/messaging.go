package bootstrap

import (
	"fmt"

	"github.com/wolfman30/support-hitl/internal/chatwoot"
	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/hitl"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildMessenger returns the conversation messenger and the provider name in use.
func BuildMessenger(cfg *appconfig.Config, logger *logging.Logger) (hitl.Messenger, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.MessagingProvider {
	case "", "log":
		return hitl.NewLogMessenger(logger), "log", nil
	case "chatwoot":
		client, err := chatwoot.New(chatwoot.Config{
			BaseURL:    cfg.ChatwootBaseURL,
			AccountID:  cfg.ChatwootAccountID,
			APIToken:   cfg.ChatwootAPIToken,
			Timeout:    cfg.ChatwootTimeout,
			MaxRetries: cfg.ChatwootMaxRetries,
			Backoff:    cfg.ChatwootRetryBackoff,
			Logger:     logger,
		})
		if err != nil {
			return nil, "chatwoot", fmt.Errorf("bootstrap: chatwoot: %w", err)
		}
		return client, "chatwoot", nil
	}
	return nil, cfg.MessagingProvider, fmt.Errorf("bootstrap: unknown messaging provider %q", cfg.MessagingProvider)
}

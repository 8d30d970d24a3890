package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/events"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildOutboxHandler selects where outbox entries are delivered. The returned
// close func is never nil.
func BuildOutboxHandler(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (events.DeliveryHandler, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.OutboxTransport {
	case "", "none", "log":
		return events.NewLogHandler(logger), noop, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, noop, fmt.Errorf("bootstrap: KAFKA_BROKERS is required for kafka")
		}
		h := events.NewKafkaHandler(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("outbox delivering to kafka", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
		return h, h.Close, nil
	case "sqs":
		if cfg.OutboxQueueURL == "" {
			return nil, noop, fmt.Errorf("bootstrap: OUTBOX_QUEUE_URL is required for sqs")
		}
		logger.Info("outbox delivering to sqs", "queue_url", cfg.OutboxQueueURL)
		return events.NewSQSHandler(sqs.NewFromConfig(awsCfg), cfg.OutboxQueueURL), noop, nil
	}
	return nil, noop, fmt.Errorf("bootstrap: unknown outbox transport %q", cfg.OutboxTransport)
}

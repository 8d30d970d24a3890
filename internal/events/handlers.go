package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/segmentio/kafka-go"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHandler publishes outbox entries to a Kafka topic keyed by aggregate id.
type KafkaHandler struct {
	writer kafkaWriter
}

func NewKafkaHandler(brokers []string, topic string) *KafkaHandler {
	return &KafkaHandler{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (h *KafkaHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	msg := kafka.Message{
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.Type)},
			{Key: "event_id", Value: []byte(entry.ID.String())},
		},
		Time: entry.CreatedAt,
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler forwards outbox entries to an SQS queue. FIFO queues group by aggregate id.
type SQSHandler struct {
	client   sqsAPI
	queueURL string
}

func NewSQSHandler(client sqsAPI, queueURL string) *SQSHandler {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSHandler{client: client, queueURL: queueURL}
}

func (h *SQSHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
		},
	}
	if strings.HasSuffix(h.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(entry.AggregateID)
		input.MessageDeduplicationId = aws.String(entry.ID.String())
	}
	if _, err := h.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// LogHandler only logs entries. Used when no transport is configured.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.logger.Info("outbox event", "event_id", entry.ID, "type", entry.Type, "aggregate_id", entry.AggregateID)
	return nil
}

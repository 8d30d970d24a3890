package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaHandler(t *testing.T) {
	w := &fakeKafkaWriter{}
	h := &KafkaHandler{writer: w}
	id := uuid.New()

	if err := h.Handle(context.Background(), OutboxEntry{ID: id, AggregateID: "appr-1", Type: TypeApprovalTransitioned, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "appr-1" || string(msg.Value) != "{}" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != TypeApprovalTransitioned || string(msg.Headers[1].Value) != id.String() {
		t.Fatalf("unexpected headers %#v", msg.Headers)
	}
	if err := h.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed")
	}

	w.err = errors.New("leader not available")
	if err := h.Handle(context.Background(), OutboxEntry{}); !errors.Is(err, w.err) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSHandlerStandardQueue(t *testing.T) {
	client := &fakeSQS{}
	h := NewSQSHandler(client, "https://sqs.local/queue")
	if err := h.Handle(context.Background(), OutboxEntry{ID: uuid.New(), AggregateID: "a", Type: "t", Payload: []byte(`{"x":1}`)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if aws.ToString(client.input.MessageBody) != `{"x":1}` {
		t.Fatalf("unexpected body %q", aws.ToString(client.input.MessageBody))
	}
	if client.input.MessageGroupId != nil {
		t.Fatalf("standard queue must not set a group id")
	}
	if aws.ToString(client.input.MessageAttributes["event_type"].StringValue) != "t" {
		t.Fatalf("missing event_type attribute")
	}
}

func TestSQSHandlerFIFOQueue(t *testing.T) {
	client := &fakeSQS{}
	id := uuid.New()
	h := NewSQSHandler(client, "https://sqs.local/queue.fifo")
	if err := h.Handle(context.Background(), OutboxEntry{ID: id, AggregateID: "appr-9", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if aws.ToString(client.input.MessageGroupId) != "appr-9" || aws.ToString(client.input.MessageDeduplicationId) != id.String() {
		t.Fatalf("unexpected fifo fields %#v", client.input)
	}

	client.err = errors.New("throttled")
	if err := h.Handle(context.Background(), OutboxEntry{}); !errors.Is(err, client.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewKafkaHandlerBuildsWriter(t *testing.T) {
	h := NewKafkaHandler([]string{"localhost:9092"}, "hitl-events")
	kw, ok := h.writer.(*kafka.Writer)
	if !ok || kw.Topic != "hitl-events" {
		t.Fatalf("unexpected writer %#v", h.writer)
	}
}

package hitl

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

// LogMessenger is a dry-run Messenger that only logs what it would send.
type LogMessenger struct {
	logger *logging.Logger
	sent   atomic.Int64
}

func NewLogMessenger(logger *logging.Logger) *LogMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) PostPrivateNote(_ context.Context, conversationID, content string) (string, error) {
	return m.record("private_note", conversationID, content), nil
}

func (m *LogMessenger) SendPublicReply(_ context.Context, conversationID, content string) (string, error) {
	return m.record("public_reply", conversationID, content), nil
}

// Sent counts messages handled so far.
func (m *LogMessenger) Sent() int64 {
	return m.sent.Load()
}

func (m *LogMessenger) record(kind, conversationID, content string) string {
	id := "dryrun-" + uuid.NewString()
	m.sent.Add(1)
	m.logger.Info("messenger dry run",
		"kind", kind,
		"conversation_id", conversationID,
		"message_id", id,
		"chars", len([]rune(strings.TrimSpace(content))),
	)
	return id
}

package learning

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DefaultSystemPrompt seeds exported training examples.
const DefaultSystemPrompt = "You are a helpful, accurate customer support agent. Follow store policy and keep a warm, concise tone."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatExample struct {
	Messages []chatMessage `json:"messages"`
}

// FineTuningJSONL writes approved signals whose average grade is at least
// minGrade as chat-format JSONL, one example per line, with PII scrubbed.
// Signals without a customer message are skipped. It returns how many
// examples were written.
func FineTuningJSONL(w io.Writer, signals []Signal, minGrade float64, systemPrompt string) (int, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	enc := json.NewEncoder(w)
	written := 0
	for _, s := range signals {
		if !s.Approved || s.Grading.Average() < minGrade {
			continue
		}
		if strings.TrimSpace(s.CustomerMessage) == "" || strings.TrimSpace(s.HumanReply) == "" {
			continue
		}
		example := chatExample{Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: ScrubPII(s.CustomerMessage)},
			{Role: "assistant", Content: ScrubPII(s.HumanReply)},
		}}
		if err := enc.Encode(example); err != nil {
			return written, fmt.Errorf("learning: encode example %s: %w", s.ID, err)
		}
		written++
	}
	return written, nil
}

package hitl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

type mockConverse struct {
	input *bedrockruntime.ConverseInput
	text  string
	err   error
}

func (m *mockConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.text}},
		}},
	}, nil
}

func TestBedrockDraftGeneratorParsesJSON(t *testing.T) {
	api := &mockConverse{text: "Here you go:\n{\"reply\": \"We refunded you.\", \"confidence\": 0.7, \"tone\": \"apologetic\", \"risk\": \"refund promise\"}"}
	gen := NewBedrockDraftGenerator(api, "anthropic.test-model")

	d, err := gen.Generate(context.Background(), DraftRequest{
		ConversationID: "c1",
		Messages: []contextstore.Message{
			{Role: contextstore.RoleAssistant, Content: "Hi, how can I help?"},
			{Role: contextstore.RoleUser, Content: "I want a refund"},
			{Role: contextstore.RoleUser, Content: "now please"},
			{Role: contextstore.RoleSystem, Content: "ignored"},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if d.SuggestedReply != "We refunded you." || d.Confidence != 0.7 || d.ToneAnalysis != "apologetic" {
		t.Fatalf("unexpected draft %#v", d)
	}
	if d.Risk.WhatCouldGoWrong != "refund promise" {
		t.Fatalf("expected risk to be carried, got %#v", d.Risk)
	}
	if aws.ToString(api.input.ModelId) != "anthropic.test-model" {
		t.Fatalf("unexpected model id %v", api.input.ModelId)
	}
	if len(api.input.Messages) != 1 {
		t.Fatalf("expected leading assistant turn dropped and user turns merged, got %d messages", len(api.input.Messages))
	}
	if got := len(api.input.Messages[0].Content); got != 2 {
		t.Fatalf("expected 2 merged blocks, got %d", got)
	}
}

func TestBedrockDraftGeneratorFallsBackToRawText(t *testing.T) {
	gen := NewBedrockDraftGenerator(&mockConverse{text: "Sure, it ships Monday."}, "m")
	d, err := gen.Generate(context.Background(), DraftRequest{
		ConversationID: "c1",
		Messages:       []contextstore.Message{{Role: contextstore.RoleUser, Content: "when?"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if d.SuggestedReply != "Sure, it ships Monday." || d.Confidence != 0.5 {
		t.Fatalf("unexpected fallback draft %#v", d)
	}
}

func TestBedrockDraftGeneratorErrors(t *testing.T) {
	req := DraftRequest{ConversationID: "c1", Messages: []contextstore.Message{{Role: contextstore.RoleUser, Content: "hi"}}}

	if _, err := NewBedrockDraftGenerator(&mockConverse{}, "").Generate(context.Background(), req); err == nil {
		t.Fatalf("expected model id error")
	}
	if _, err := NewBedrockDraftGenerator(&mockConverse{}, "m").Generate(context.Background(), DraftRequest{ConversationID: "c1"}); err == nil {
		t.Fatalf("expected no-messages error")
	}
	upstream := errors.New("throttled")
	_, err := NewBedrockDraftGenerator(&mockConverse{err: upstream}, "m").Generate(context.Background(), req)
	if !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
	if _, err := NewBedrockDraftGenerator(&mockConverse{text: "  "}, "m").Generate(context.Background(), req); err == nil {
		t.Fatalf("expected empty output error")
	}
}

func TestStubDraftGenerator(t *testing.T) {
	d, err := StubDraftGenerator{}.Generate(context.Background(), DraftRequest{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if d.SuggestedReply == "" || d.Confidence != 0.5 {
		t.Fatalf("unexpected stub draft %#v", d)
	}
	if _, err := (StubDraftGenerator{}).Generate(context.Background(), DraftRequest{}); err == nil {
		t.Fatalf("expected conversation id error")
	}
}

func TestFormatDraftNote(t *testing.T) {
	note := FormatDraftNote(Draft{
		SuggestedReply: "  Hello there  ",
		Confidence:     0.456,
		RAGSources:     []string{"kb/a", "kb/b"},
		Risk:           riskFrom("mentions pricing"),
	})
	for _, want := range []string{"confidence 46%", "Hello there\n", "Sources: kb/a, kb/b", "Risk: mentions pricing"} {
		if !strings.Contains(note, want) {
			t.Fatalf("note missing %q:\n%s", want, note)
		}
	}
}

func TestLogMessengerCountsAndReturnsIDs(t *testing.T) {
	m := NewLogMessenger(nil)
	a, _ := m.PostPrivateNote(context.Background(), "c1", "note")
	b, _ := m.SendPublicReply(context.Background(), "c1", "reply")
	if a == b || a == "" {
		t.Fatalf("expected distinct ids, got %q %q", a, b)
	}
	if m.Sent() != 2 {
		t.Fatalf("expected 2 sends, got %d", m.Sent())
	}
}

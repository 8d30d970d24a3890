package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wolfman30/support-hitl/internal/contextstore"
)

// StubDraftGenerator returns a fixed acknowledgement. Used in development and tests.
type StubDraftGenerator struct {
	Reply      string
	Confidence float64
}

func (g StubDraftGenerator) Generate(_ context.Context, req DraftRequest) (Draft, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return Draft{}, errors.New("hitl: conversation id required")
	}
	reply := g.Reply
	if reply == "" {
		reply = "Thanks for reaching out! We're looking into this and will follow up shortly."
	}
	confidence := g.Confidence
	if confidence == 0 {
		confidence = 0.5
	}
	return Draft{
		SuggestedReply: reply,
		Confidence:     confidence,
		RAGSources:     []string{},
		ToneAnalysis:   "neutral",
	}, nil
}

const defaultDraftPrompt = `You are a customer support agent drafting a reply for a human reviewer.
Respond with a single JSON object: {"reply": string, "confidence": number between 0 and 1, "tone": string, "risk": string}.
Never promise refunds or policy exceptions; flag them in "risk" instead.`

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockDraftGenerator drafts replies with a Bedrock Converse model.
type BedrockDraftGenerator struct {
	api          bedrockConverseAPI
	modelID      string
	systemPrompt string
	maxTokens    int32
}

func NewBedrockDraftGenerator(api bedrockConverseAPI, modelID string) *BedrockDraftGenerator {
	if api == nil {
		panic("hitl: bedrock converse client cannot be nil")
	}
	return &BedrockDraftGenerator{
		api:          api,
		modelID:      modelID,
		systemPrompt: defaultDraftPrompt,
		maxTokens:    600,
	}
}

// WithSystemPrompt overrides the drafting instructions.
func (g *BedrockDraftGenerator) WithSystemPrompt(prompt string) *BedrockDraftGenerator {
	if strings.TrimSpace(prompt) != "" {
		g.systemPrompt = prompt
	}
	return g
}

type modelDraft struct {
	Reply      string  `json:"reply"`
	Confidence float64 `json:"confidence"`
	Tone       string  `json:"tone"`
	Risk       string  `json:"risk"`
}

func (g *BedrockDraftGenerator) Generate(ctx context.Context, req DraftRequest) (Draft, error) {
	if strings.TrimSpace(g.modelID) == "" {
		return Draft{}, errors.New("hitl: bedrock model id is required")
	}
	messages := converseMessages(req.Messages)
	if len(messages) == 0 {
		return Draft{}, errors.New("hitl: no customer messages to draft against")
	}

	out, err := g.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(g.modelID),
		System:   []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: g.systemPrompt}},
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(g.maxTokens),
			Temperature: aws.Float32(0.2),
		},
	})
	if err != nil {
		return Draft{}, fmt.Errorf("hitl: bedrock converse: %w", err)
	}
	text, err := outputText(out)
	if err != nil {
		return Draft{}, err
	}
	return parseModelDraft(text), nil
}

// converseMessages maps the transcript onto alternating user/assistant turns.
// Bedrock requires the first turn to come from the user.
func converseMessages(in []contextstore.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(in))
	for _, msg := range in {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		var role brtypes.ConversationRole
		switch msg.Role {
		case contextstore.RoleUser:
			role = brtypes.ConversationRoleUser
		case contextstore.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			continue
		}
		if len(out) == 0 && role != brtypes.ConversationRoleUser {
			continue
		}
		block := &brtypes.ContentBlockMemberText{Value: content}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, brtypes.Message{Role: role, Content: []brtypes.ContentBlock{block}})
	}
	return out
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("hitl: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("hitl: bedrock response did not include a message output")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("hitl: bedrock response message was empty")
	}
	return b.String(), nil
}

// parseModelDraft accepts the JSON shape the prompt asks for and falls back
// to treating the whole output as the reply.
func parseModelDraft(text string) Draft {
	text = strings.TrimSpace(text)
	raw := text
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		raw = text[start : end+1]
	}
	var md modelDraft
	if err := json.Unmarshal([]byte(raw), &md); err != nil || strings.TrimSpace(md.Reply) == "" {
		return Draft{SuggestedReply: text, Confidence: 0.5, RAGSources: []string{}}
	}
	confidence := md.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0.5
	}
	return Draft{
		SuggestedReply: strings.TrimSpace(md.Reply),
		Confidence:     confidence,
		RAGSources:     []string{},
		ToneAnalysis:   md.Tone,
		Risk:           riskFrom(md.Risk),
	}
}

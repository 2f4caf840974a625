package consolidation

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"go.uber.org/zap"
)

// Extractor pulls durable facts out of a conversation turn.
type Extractor struct {
	client llm.Client
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(client llm.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, logger: logger}
}

type extractOutput struct {
	Facts []string `json:"facts"`
}

// Extract returns the facts stated in one user/assistant exchange. Facts
// are trimmed and deduplicated; malformed model output is an error.
func (x *Extractor) Extract(ctx context.Context, userMsg, assistantMsg string) ([]string, error) {
	if strings.TrimSpace(userMsg) == "" && strings.TrimSpace(assistantMsg) == "" {
		return nil, nil
	}

	resp, err := x.client.Complete(ctx, llm.Request{
		System: extractPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "user: " + userMsg + "\nassistant: " + assistantMsg,
		}},
		Mode: llm.ModeDeterministic,
	})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	var out extractOutput
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	facts := cleanFacts(out.Facts)
	x.logger.Debug("facts extracted", zap.Int("count", len(facts)))
	return facts, nil
}

const extractPrompt = `You are a personal information organizer. You extract durable facts about the user from a conversation: preferences, personal details, plans, relationships, and anything the user would expect to be remembered.

Guidelines:
- Write each fact as a short standalone sentence in the third person.
- Ignore greetings, small talk, and statements about the assistant.
- Use only information stated or clearly confirmed in the conversation.
- If there is nothing worth remembering, return an empty list.

Respond ONLY with a JSON object of this form:
{"facts":["...","..."]}`

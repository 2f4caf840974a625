package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("empty response from API")

	// ErrMalformedOutput is returned when structured output cannot be parsed.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Mode selects sampling behaviour.
type Mode int

const (
	// ModeConversational uses the configured chat temperature.
	ModeConversational Mode = iota
	// ModeDeterministic uses temperature 0.
	ModeDeterministic
)

// Request is a provider-neutral completion request. System messages found
// in Messages are merged into System.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Mode      Mode
	MaxTokens int
}

// Response is a completed generation.
type Response struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Client generates completions.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream calls onDelta for every text fragment in order and returns the
	// accumulated response. An error from onDelta aborts the stream.
	Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error)
}

// splitSystem separates system messages from the conversation.
func splitSystem(req Request) (string, []Message) {
	parts := make([]string, 0, 2)
	if req.System != "" {
		parts = append(parts, req.System)
	}
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		msgs = append(msgs, m)
	}
	return strings.Join(parts, "\n\n"), msgs
}

// DecodeJSON parses a JSON object out of model output, tolerating markdown
// code fences and leading or trailing prose.
func DecodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/record"
)

// ErrInvalidRequest is returned for requests that cannot be served, such as
// an invalid scope or a conversation without a user message.
var ErrInvalidRequest = errors.New("invalid request")

// Phase names a step of the background maintenance pipeline.
type Phase string

const (
	PhaseExtract     Phase = "extract"
	PhaseConsolidate Phase = "consolidate"
	PhaseSummarize   Phase = "summarize"
	PhaseEvict       Phase = "evict"
	PhaseSnapshot    Phase = "snapshot"
)

// AllPhases returns the maintenance phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseExtract, PhaseConsolidate, PhaseSummarize, PhaseEvict, PhaseSnapshot}
}

// ChatRequest is an incoming chat completion.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	ScopeID  string        `json:"scope_id,omitempty"`
	TopK     int           `json:"top_k,omitempty"`
}

// Memory is a retrieved record as shown to the client.
type Memory struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
}

// ChatResponse is the model's answer annotated with the memories used.
type ChatResponse struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Scope        string   `json:"scope"`
	Content      string   `json:"content"`
	FinishReason string   `json:"finish_reason"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Memories     []Memory `json:"memories"`
}

// memoryRole maps a record kind to the role reported to clients.
func memoryRole(k record.Kind) string {
	switch k {
	case record.KindUserTurn:
		return "user"
	case record.KindAssistantTurn:
		return "assistant"
	case record.KindSummary:
		return "summary"
	default:
		return "fact"
	}
}

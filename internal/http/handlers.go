package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	ScopeID  string        `json:"scope_id,omitempty"`
	TopK     int           `json:"top_k,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatCompletion is a chat response or, when streaming, one chunk.
type ChatCompletion struct {
	ID       string                `json:"id"`
	Object   string                `json:"object"`
	Created  int64                 `json:"created"`
	Model    string                `json:"model"`
	Choices  []Choice              `json:"choices"`
	Usage    *Usage                `json:"usage,omitempty"`
	Memories []orchestrator.Memory `json:"memories,omitempty"`
}

// Choice is one completion alternative. Message is set on full responses
// and Delta on stream chunks.
type Choice struct {
	Index        int          `json:"index"`
	Message      *llm.Message `json:"message,omitempty"`
	Delta        *llm.Message `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// Usage reports token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages field is required")
	}
	chatReq := orchestrator.ChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		ScopeID:  req.ScopeID,
		TopK:     req.TopK,
	}
	if req.Stream {
		return s.streamChat(c, chatReq)
	}

	resp, err := s.chat.Chat(c.Request().Context(), chatReq)
	if err != nil {
		return s.chatError(c, err)
	}
	finish := resp.FinishReason
	return c.JSON(http.StatusOK, ChatCompletion{
		ID:      resp.ID,
		Object:  objectCompletion,
		Created: time.Now().Unix(),
		Model:   modelName(req.Model, resp.Model),
		Choices: []Choice{{
			Message:      &llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: &finish,
		}},
		Usage: &Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
		Memories: resp.Memories,
	})
}

// streamChat writes the completion as server-sent events. Headers are
// sent with the first delta, so a failure before any output still gets a
// regular JSON error.
func (s *Server) streamChat(c echo.Context, req orchestrator.ChatRequest) error {
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	w := c.Response()
	chunk := func(choice Choice) ChatCompletion {
		return ChatCompletion{ID: id, Object: objectChunk, Created: created, Model: req.Model, Choices: []Choice{choice}}
	}

	started := false
	resp, err := s.chat.ChatStream(c.Request().Context(), req, func(delta string) error {
		if !started {
			w.Header().Set(echo.HeaderContentType, "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return writeEvent(w, chunk(Choice{Delta: &llm.Message{Role: llm.RoleAssistant, Content: delta}}))
	})
	if err != nil {
		if !started {
			return s.chatError(c, err)
		}
		s.logger.Warn("chat stream aborted",
			zap.String("request_id", w.Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return writeEvent(w, ErrorResponse{Error: "stream aborted"})
	}
	if !started {
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}

	finish := resp.FinishReason
	last := chunk(Choice{Delta: &llm.Message{}, FinishReason: &finish})
	last.Model = modelName(req.Model, resp.Model)
	last.Memories = resp.Memories
	if err := writeEvent(w, last); err != nil {
		return nil
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()
	return nil
}

func writeEvent(w *echo.Response, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) chatError(c echo.Context, err error) error {
	if errors.Is(err, orchestrator.ErrInvalidRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error("chat completion failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusBadGateway, "upstream model error")
}

func modelName(requested, answered string) string {
	if answered != "" {
		return answered
	}
	return requested
}

// SearchRequest is the body of POST /v1/memories/search.
type SearchRequest struct {
	Query   string `json:"query"`
	ScopeID string `json:"scope_id,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

// SearchResult is one ranked memory.
type SearchResult struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
	Relevance float64   `json:"relevance"`
	Recency   float64   `json:"recency"`
}

// SearchResponse is the response body for POST /v1/memories/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	hits, err := s.chat.Search(c.Request().Context(), req.Query, req.ScopeID, req.TopK)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			ID:        h.Record.ID,
			Kind:      string(h.Record.Kind),
			Content:   h.Record.Content,
			CreatedAt: h.Record.CreatedAt,
			Score:     h.Score,
			Relevance: h.Relevance,
			Recency:   h.Recency,
		})
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleReconcile(c echo.Context) error {
	stats, err := s.reconciler.Reconcile(c.Request().Context())
	if err != nil {
		s.logger.Error("reconcile failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reconcile failed")
	}
	return c.JSON(http.StatusOK, stats)
}

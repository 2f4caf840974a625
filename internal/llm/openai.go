package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including local servers such as vLLM or Ollama.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOpenAIClient creates an OpenAIClient. The API key may be empty for
// local servers.
func NewOpenAIClient(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), defaultBurst),
		logger:     logger,
	}, nil
}

type openAIRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAIClient) buildRequest(req Request, stream bool) openAIRequest {
	system, msgs := splitSystem(req)
	out := make([]Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, Message{Role: RoleSystem, Content: system})
	}
	out = append(out, msgs...)

	model := req.Model
	if model == "" {
		model = o.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxTokens
	}
	r := openAIRequest{
		Model:       model,
		Messages:    out,
		MaxTokens:   maxTokens,
		Temperature: o.cfg.temperature(req.Mode),
		Stream:      stream,
	}
	if stream {
		r.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return r
}

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	body := o.buildRequest(req, false)

	return withRetries(ctx, o.cfg.MaxRetries, o.cfg.BaseBackoff, func() (*Response, error) {
		resp, err := o.post(ctx, body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var parsed openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		out := &Response{
			ID:      parsed.ID,
			Model:   parsed.Model,
			Content: parsed.Choices[0].Message.Content,
		}
		if fr := parsed.Choices[0].FinishReason; fr != nil {
			out.FinishReason = *fr
		}
		if parsed.Usage != nil {
			out.InputTokens = parsed.Usage.PromptTokens
			out.OutputTokens = parsed.Usage.CompletionTokens
		}
		return out, nil
	})
}

// Stream implements Client. Only opening the stream is retried; once
// deltas have been delivered a failure is returned as is.
func (o *OpenAIClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	body := o.buildRequest(req, true)

	resp, err := withRetries(ctx, o.cfg.MaxRetries, o.cfg.BaseBackoff, func() (*http.Response, error) {
		return o.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{Model: body.Model}
	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.ID != "" {
			out.ID = chunk.ID
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, c := range chunk.Choices {
			if c.FinishReason != nil {
				out.FinishReason = *c.FinishReason
			}
			if c.Delta.Content == "" {
				continue
			}
			sb.WriteString(c.Delta.Content)
			if err := onDelta(c.Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	out.Content = sb.String()
	return out, nil
}

// post sends the request and returns the response when the status is 200.
// The caller closes the body.
func (o *OpenAIClient) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		o.logger.Warn("llm rate limited", zap.String("model", body.Model))
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(msg))}
	}
	var errResp openAIError
	if err := json.Unmarshal(msg, &errResp); err == nil && errResp.Error.Message != "" {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
	}
	return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(msg))
}

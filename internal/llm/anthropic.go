package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AnthropicClient calls the Messages API through the official SDK. The
// SDK retries 429s and 5xx responses itself.
type AnthropicClient struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAnthropicClient creates an AnthropicClient.
func NewAnthropicClient(cfg Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), defaultBurst),
		logger:  logger,
	}, nil
}

func (a *AnthropicClient) params(req Request) (anthropic.MessageNewParams, error) {
	system, msgs := splitSystem(req)
	if len(msgs) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: at least one user or assistant message required", ErrInvalidConfig)
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    make([]anthropic.MessageParam, 0, len(msgs)),
		Temperature: anthropic.Float(a.cfg.temperature(req.Mode)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params, nil
}

// Complete implements Client.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.params(req)
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}
	return toResponse(msg)
}

// Stream implements Client.
func (a *AnthropicClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	params, err := a.params(req)
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			a.logger.Debug("stream accumulate failed", zap.Error(err))
		}

		if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onDelta(delta.Text); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}
	return toResponse(&message)
}

func toResponse(msg *anthropic.Message) (*Response, error) {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      sb.String(),
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

package llm

import (
	"context"
	"strings"
	"sync"
)

// Scripted is a Client that answers from a fixed script, for tests.
// Respond, when set, takes precedence over Replies.
type Scripted struct {
	mu       sync.Mutex
	Replies  []string
	Respond  func(req Request) (string, error)
	Err      error
	Requests []Request
}

// Complete implements Client.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	respond := s.Respond
	var text string
	if respond == nil && s.Err == nil && len(s.Replies) > 0 {
		text = s.Replies[0]
		if len(s.Replies) > 1 {
			s.Replies = s.Replies[1:]
		}
	}
	err := s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if respond != nil {
		var rerr error
		text, rerr = respond(req)
		if rerr != nil {
			return nil, rerr
		}
	}
	return &Response{
		ID:           "scripted",
		Model:        "scripted",
		Content:      text,
		FinishReason: "stop",
		OutputTokens: len(strings.Fields(text)),
	}, nil
}

// Stream implements Client by emitting the reply word by word.
func (s *Scripted) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(resp.Content, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := onDelta(w); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Calls returns the number of requests seen.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestClient(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(Config{
		BaseURL:           srv.URL,
		APIKey:            "sk-test",
		Model:             "gpt-test",
		ChatTemperature:   0.7,
		RequestsPerMinute: 6000,
		BaseBackoff:       time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got openAIRequest
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"c1","model":"gpt-test","choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":1}}`)
	})

	resp, err := c.Complete(context.Background(), Request{
		System: "be brief",
		Messages: []Message{
			{Role: RoleSystem, Content: "memories"},
			{Role: RoleUser, Content: "hi"},
		},
		Mode: ModeDeterministic,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 1, resp.OutputTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "be brief\n\nmemories", got.Messages[0].Content)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
}

func TestOpenAIClient_ConversationalTemperature(t *testing.T) {
	var got openAIRequest
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
}

func TestOpenAIClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"finally"}}]}`)
	})

	resp, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model"}}`)
	})

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_Stream(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"s1\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	resp, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "s1", resp.ID)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestOpenAIClient_StreamCallbackAborts(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	})

	stop := fmt.Errorf("client went away")
	_, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, func(string) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

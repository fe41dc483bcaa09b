package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "grok-3",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "` + "```json\\n[]\\n```" + `"}
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestOpenAICompleter_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIOptions{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "grok-3"})
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), Request{
		System:      "You write JSON.",
		Prompt:      "Give me items",
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	require.NoError(t, err)
	assert.Equal(t, "```json\n[]\n```", text)

	assert.Equal(t, "grok-3", got["model"])
	assert.Equal(t, 0.7, got["temperature"])
	assert.Equal(t, 4000.0, got["max_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenAICompleter_OmitsUnsetFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIOptions{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)

	_, hasMax := got["max_tokens"]
	assert.False(t, hasMax)
	assert.Len(t, got["messages"], 1)
}

func TestOpenAICompleter_RateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIOptions{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "p"})
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.Equal(t, 1, calls, "the SDK must not retry on its own")
}

func TestOpenAICompleter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIOptions{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	var rl *RateLimitError
	assert.False(t, errors.As(err, &rl))
}

func TestNewOpenAICompleter_Validates(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIOptions{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAICompleter(OpenAIOptions{APIKey: "k"})
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"10", 10 * time.Second},
		{"-3", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in, now))
		})
	}
}

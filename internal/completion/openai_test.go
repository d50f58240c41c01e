package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenAI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionBody(content string) string {
	resp := map[string]any{
		"id": "chatcmpl-test",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestNewOpenAIClient(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIClient(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key required")
	})

	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewOpenAIClient(Config{APIKey: "sk-test"})
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
}

func TestComplete(t *testing.T) {
	t.Run("returns completion text", func(t *testing.T) {
		var gotAuth string
		var gotReq openAIRequest
		srv := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionBody("analysis")))
		})

		c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o"})
		require.NoError(t, err)

		got, err := c.Complete(context.Background(), Request{
			Messages:    []Message{{Role: "user", Content: "Hi"}},
			MaxTokens:   10,
			Temperature: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, "analysis", got)
		assert.Equal(t, "Bearer sk-test", gotAuth)
		assert.Equal(t, "gpt-4o", gotReq.Model)
		assert.Equal(t, 10, gotReq.MaxTokens)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(completionBody("recovered")))
		})

		c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
		require.NoError(t, err)

		got, err := c.Complete(context.Background(), Request{
			Messages: []Message{{Role: "user", Content: "Hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", got)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
		})

		c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), Request{
			Messages: []Message{{Role: "user", Content: "Hi"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad key")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejects empty choices", func(t *testing.T) {
		srv := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"chatcmpl-test","choices":[]}`))
		})

		c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), Request{
			Messages: []Message{{Role: "user", Content: "Hi"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty response")
	})
}

func TestMock(t *testing.T) {
	m := NewMock("first", "second")

	got, err := m.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = m.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = m.Complete(context.Background(), Request{})
	assert.Error(t, err)

	assert.Len(t, m.Calls(), 3)
}

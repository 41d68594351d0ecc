package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "model-x", req.Model)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"tags\":[]} "}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL+"/v1/", time.Second, 0)
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "model-x"})
	require.NoError(t, err)
	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, `{"tags":[]}`, content)
}

func TestCreateChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := NewClient("key", srv.URL, time.Second, 0).CreateChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestCreateChatCompletionWithoutKey(t *testing.T) {
	_, err := NewClient("", "", 0, 1).CreateChatCompletion(context.Background(), ChatCompletionRequest{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

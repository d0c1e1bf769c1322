package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"VerseGate/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&conf.Provider{
		BaseUrl: srv.URL,
		ApiKey:  "test-key",
	})
	require.NoError(t, err)
	return client
}

// Test ChatCompletion - Success round trip
func TestChatCompletion_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Grace and peace."}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))

	resp, err := client.ChatCompletion(context.Background(), &ChatRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Grace and peace.", resp.Choices[0].Message.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

// Test ChatCompletion - API errors carry the status code
func TestChatCompletion_APIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))

	_, err := client.ChatCompletion(context.Background(), &ChatRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "slow down", pe.Message)
	assert.True(t, pe.Temporary())
}

// Test Error - Temporary classification
func TestError_Temporary(t *testing.T) {
	assert.True(t, (&Error{StatusCode: 429}).Temporary())
	assert.True(t, (&Error{StatusCode: 500}).Temporary())
	assert.True(t, (&Error{StatusCode: 503}).Temporary())
	assert.False(t, (&Error{StatusCode: 400}).Temporary())
	assert.False(t, (&Error{StatusCode: 401}).Temporary())
	assert.False(t, (&Error{StatusCode: 404}).Temporary())
}

// Test Moderate - Parses the first result
func TestModerate_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderations", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"flagged":true,"categories":{"hate":true},"category_scores":{"hate":0.91}}]}`))
	}))

	res, err := client.Moderate(context.Background(), "some text")
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.True(t, res.Categories["hate"])
	assert.InDelta(t, 0.91, res.Scores["hate"], 1e-9)
}

// Test Moderate - Empty results are a gateway error
func TestModerate_EmptyResults(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))

	_, err := client.Moderate(context.Background(), "some text")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
}

// Test Embeddings - Round trip
func TestEmbeddings_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"model":"text-embedding-3-small","data":[{"index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":5,"total_tokens":5}}`))
	}))

	resp, err := client.Embeddings(context.Background(), "text-embedding-3-small", []string{"verse"})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []float64{0.1, 0.2}, resp.Data[0].Embedding)
}

// Test VectorQuery - Round trip
func TestVectorQuery_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vectors/query", r.URL.Path)
		_, _ = w.Write([]byte(`{"matches":[{"id":"jn-3-16","score":0.98,"text":"For God so loved the world"}]}`))
	}))

	matches, err := client.VectorQuery(context.Background(), []float64{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "jn-3-16", matches[0].ID)
}

// Test Ping - Health probe
func TestPing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))

	assert.NoError(t, client.Ping(context.Background()))
}

// Test NewClient - Missing base URL
func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient(&conf.Provider{})
	assert.Error(t, err)
}

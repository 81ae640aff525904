// internal/providers/genai/client_test.go
package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

func createTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&Config{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Model:       "test-model",
		MaxTokens:   512,
		Temperature: 0.3,
		Timeout:     5 * time.Second,
		MaxRetries:  1,
	}, logger.NewTestLogger(t))
}

func TestClient_Generate_Success(t *testing.T) {
	var gotPayload map[string]interface{}
	var gotAuth string
	client := createTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Text: "Bitcoin climbed 5%.", Confidence: 0.9})
	})

	resp, err := client.Generate(context.Background(), &Request{
		System: "You are an analyst.",
		Prompt: "Summarize the news.",
	})

	require.NoError(t, err)
	assert.Equal(t, "Bitcoin climbed 5%.", resp.Text)
	assert.Equal(t, 0.9, resp.Confidence)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotPayload["model"])
	assert.Equal(t, float64(512), gotPayload["max_tokens"])
	assert.Equal(t, 0.3, gotPayload["temperature"])
}

func TestClient_Generate_TemperatureOverride(t *testing.T) {
	var gotPayload map[string]interface{}
	client := createTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(Response{Text: "ok", Confidence: 0.5})
	})

	cold := 0.1
	_, err := client.Generate(context.Background(), &Request{Prompt: "classify", Temperature: &cold})

	require.NoError(t, err)
	assert.Equal(t, 0.1, gotPayload["temperature"])
}

func TestClient_Generate_ConfidenceOutOfRangeClamped(t *testing.T) {
	client := createTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Text: "answer", Confidence: 3.5})
	})

	resp, err := client.Generate(context.Background(), &Request{Prompt: "q"})

	require.NoError(t, err)
	assert.Equal(t, 0.5, resp.Confidence)
}

func TestClient_Generate_EmptyTextIsError(t *testing.T) {
	client := createTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Text: "   ", Confidence: 0.8})
	})

	_, err := client.Generate(context.Background(), &Request{Prompt: "q"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestClient_Generate_NonOKStatus(t *testing.T) {
	client := createTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Generate(context.Background(), &Request{Prompt: "q"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, apperrors.ErrCodeProviderFatal, apperrors.CodeOf(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain json", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  {\"a\": 1}\n", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExtractJSON(tt.in)))
		})
	}
}

// internal/stages/extract-intent/handler_test.go
package extractintent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
)

type fakeGenerator struct {
	response *genai.Response
	err      error
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func createTestHandler(t *testing.T, llm Generator) *Handler {
	t.Helper()
	return NewHandler(LoadConfig(), llm, logger.NewTestLogger(t))
}

func createQuery(text string) models.Query {
	return models.Query{
		ConversationID: uuid.New(),
		TurnIndex:      1,
		Text:           text,
		ReceivedAt:     time.Now().UTC(),
	}
}

func TestHandler_Execute_Success(t *testing.T) {
	llm := &fakeGenerator{
		response: &genai.Response{
			Text:       `{"category": "price_inquiry", "confidence": 0.92, "entities": [{"name": "Bitcoin", "ticker": "btc", "confidence": 0.97}]}`,
			Confidence: 0.92,
		},
	}
	handler := createTestHandler(t, llm)

	intent := handler.Execute(context.Background(), createQuery("Why did BTC drop today?"))

	assert.Equal(t, models.IntentPriceInquiry, intent.Category)
	assert.Equal(t, 0.92, intent.Confidence)
	assert.False(t, intent.Degraded)
	require.Len(t, intent.Entities, 1)
	assert.Equal(t, "Bitcoin", intent.Entities[0].Name)
	assert.Equal(t, "BTC", intent.Entities[0].Ticker)
}

func TestHandler_Execute_MarkdownFencedResponse(t *testing.T) {
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: "```json\n{\"category\": \"sentiment\", \"confidence\": 0.8, \"entities\": []}\n```",
		},
	}
	handler := createTestHandler(t, llm)

	intent := handler.Execute(context.Background(), createQuery("How is the market feeling?"))

	assert.Equal(t, models.IntentSentiment, intent.Category)
	assert.False(t, intent.Degraded)
}

func TestHandler_Execute_DegradesOnProviderError(t *testing.T) {
	llm := &fakeGenerator{err: errors.New("connection refused")}
	handler := createTestHandler(t, llm)

	intent := handler.Execute(context.Background(), createQuery("What happened to Ethereum and SOL?"))

	assert.Equal(t, models.IntentGeneral, intent.Category)
	assert.True(t, intent.Degraded)
	assert.Equal(t, 0.2, intent.Confidence)

	// Lexicon scan still finds the mentioned assets.
	names := intent.EntityNames()
	assert.Contains(t, names, "Ethereum")
	assert.Contains(t, names, "Solana")
}

func TestHandler_Execute_DegradesOnInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "Bitcoin is going up!"},
		{"unknown category only", `{"category": 42, "confidence": 0.5, "entities": []}`},
		{"missing required fields", `{"confidence": 0.5}`},
		{"confidence out of range", `{"category": "general", "confidence": 7.5, "entities": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeGenerator{response: &genai.Response{Text: tt.text}}
			handler := createTestHandler(t, llm)

			intent := handler.Execute(context.Background(), createQuery("BTC news"))

			assert.True(t, intent.Degraded)
			assert.Equal(t, models.IntentGeneral, intent.Category)
		})
	}
}

func TestHandler_Execute_MergesLexiconEntities(t *testing.T) {
	// Model only returns Bitcoin; the lexicon adds Dogecoin from the text.
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: `{"category": "market_event", "confidence": 0.85, "entities": [{"name": "Bitcoin", "ticker": "BTC", "confidence": 0.9}]}`,
		},
	}
	handler := createTestHandler(t, llm)

	intent := handler.Execute(context.Background(), createQuery("Did the BTC rally lift DOGE too?"))

	names := intent.EntityNames()
	assert.Contains(t, names, "Bitcoin")
	assert.Contains(t, names, "Dogecoin")

	// No duplicate Bitcoin entry from the lexicon.
	count := 0
	for _, e := range intent.Entities {
		if e.Ticker == "BTC" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestScanEntities(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		tickers []string
	}{
		{"ticker match", "is BTC pumping", []string{"BTC"}},
		{"name match case-insensitive", "thoughts on ethereum?", []string{"ETH"}},
		{"multiple assets", "BTC vs Cardano vs solana", []string{"BTC", "ADA", "SOL"}},
		{"no assets", "what is a blockchain", nil},
		{"short words are not tickers", "go up or down", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions := ScanEntities(tt.text)
			var got []string
			for _, m := range mentions {
				got = append(got, m.Ticker)
			}
			assert.ElementsMatch(t, tt.tickers, got)
		})
	}
}

func TestNeedsEvidence(t *testing.T) {
	tests := []struct {
		name   string
		intent models.ExtractedIntent
		query  string
		want   bool
	}{
		{
			name:   "non-general category always retrieves",
			intent: models.ExtractedIntent{Category: models.IntentPriceInquiry},
			query:  "BTC price",
			want:   true,
		},
		{
			name: "general with entities retrieves",
			intent: models.ExtractedIntent{
				Category: models.IntentGeneral,
				Entities: []models.EntityMention{{Name: "Bitcoin", Ticker: "BTC"}},
			},
			query: "tell me about Bitcoin",
			want:  true,
		},
		{
			name:   "general with market vocabulary retrieves",
			intent: models.ExtractedIntent{Category: models.IntentGeneral},
			query:  "any interesting market news?",
			want:   true,
		},
		{
			name:   "greeting is answered directly",
			intent: models.ExtractedIntent{Category: models.IntentGeneral},
			query:  "hello, who are you?",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsEvidence(tt.intent, tt.query))
		})
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandler_Execute_StageTimeoutDegrades(t *testing.T) {
	cfg := LoadConfig()
	cfg.Timeout = 5 * time.Millisecond
	handler := NewHandler(cfg, blockingGenerator{}, logger.NewTestLogger(t))

	intent := handler.Execute(context.Background(), createQuery("What is happening with Ethereum?"))

	assert.True(t, intent.Degraded)
	assert.Equal(t, models.IntentGeneral, intent.Category)
}

// internal/stages/compose-answer/handler_test.go
package composeanswer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/evidence"
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

type fakeArticles struct {
	articles map[string]evidence.Article
	err      error
}

func (f *fakeArticles) GetBySourceIDs(ctx context.Context, sourceIDs []string) (map[string]evidence.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.articles, nil
}

func createTestHandler(t *testing.T, llm Generator, articles ArticleLookup) *Handler {
	t.Helper()
	return NewHandler(LoadConfig(), llm, articles, logger.NewTestLogger(t))
}

func createQuery(text string) models.Query {
	return models.Query{
		ConversationID: uuid.New(),
		TurnIndex:      2,
		Text:           text,
		ReceivedAt:     time.Now().UTC(),
	}
}

func citedDigest() models.SynthesisDigest {
	return models.SynthesisDigest{
		Facts: []models.Fact{
			{Text: "Bitcoin rose 5% after the ETF approval.", Sources: []string{"src-a"}},
			{Text: "Volume doubled.", Sources: []string{"src-b"}},
		},
	}
}

func bullish() models.ImpactAssessment {
	return models.ImpactAssessment{
		Sentiment:        models.SentimentBullish,
		Confidence:       0.8,
		AffectedEntities: []string{"Bitcoin"},
		Rationale:        "ETF approval lifted demand.",
	}
}

func TestHandler_ComposeGrounded_Success(t *testing.T) {
	llm := &fakeGenerator{response: &genai.Response{Text: "Bitcoin climbed 5% after the ETF approval, with volume doubling."}}
	articles := &fakeArticles{articles: map[string]evidence.Article{
		"src-a": {
			SourceID:    "src-a",
			Title:       "Spot ETF Approved",
			SourceName:  "CoinDesk",
			PublishedAt: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		},
	}}
	handler := createTestHandler(t, llm, articles)

	query := createQuery("Why is BTC up?")
	answer, err := handler.ComposeGrounded(context.Background(), query, citedDigest(), bullish())

	require.NoError(t, err)
	assert.True(t, answer.Grounded)
	assert.Equal(t, []string{"src-a", "src-b"}, answer.Sources)
	assert.Equal(t, query.ConversationID, answer.ConversationID)
	assert.Contains(t, answer.Text, "Bitcoin climbed 5%")
	assert.Contains(t, answer.Text, "Spot ETF Approved — CoinDesk (2026-08-20)")
	// Catalog miss degrades to the bare identifier.
	assert.Contains(t, answer.Text, "src-b")
	assert.Contains(t, answer.Text, Disclaimer)
}

func TestHandler_ComposeGrounded_ArticleLookupFailureDegrades(t *testing.T) {
	llm := &fakeGenerator{response: &genai.Response{Text: "Bitcoin climbed."}}
	articles := &fakeArticles{err: errors.New("connection refused")}
	handler := createTestHandler(t, llm, articles)

	answer, err := handler.ComposeGrounded(context.Background(), createQuery("Why is BTC up?"), citedDigest(), bullish())

	require.NoError(t, err)
	assert.True(t, answer.Grounded)
	assert.Contains(t, answer.Text, "src-a")
	assert.Contains(t, answer.Text, "src-b")
}

func TestHandler_ComposeGrounded_ProviderError(t *testing.T) {
	llm := &fakeGenerator{err: errors.New("upstream 500")}
	handler := createTestHandler(t, llm, nil)

	_, err := handler.ComposeGrounded(context.Background(), createQuery("Why is BTC up?"), citedDigest(), bullish())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposeFailed)
}

func TestHandler_ComposeFallback_Deterministic(t *testing.T) {
	llm := &fakeGenerator{}
	handler := createTestHandler(t, llm, nil)

	query := createQuery("news about some obscure token")
	intent := models.ExtractedIntent{Category: models.IntentMarketEvent}

	first := handler.ComposeFallback(query, intent)
	second := handler.ComposeFallback(query, intent)

	assert.Equal(t, first.Text, second.Text)
	assert.False(t, first.Grounded)
	assert.Empty(t, first.Sources)
	// The fallback never consults the model.
	assert.Equal(t, 0, llm.calls)
	assert.Contains(t, first.Text, "could not find recent news coverage")
	assert.Contains(t, first.Text, "rephrasing")
	assert.Contains(t, first.Text, Disclaimer)
}

func TestHandler_ComposeFallback_NamesEntities(t *testing.T) {
	handler := createTestHandler(t, &fakeGenerator{}, nil)

	answer := handler.ComposeFallback(createQuery("anything new on Polkadot?"), models.ExtractedIntent{
		Category: models.IntentMarketEvent,
		Entities: []models.EntityMention{{Name: "Polkadot", Ticker: "DOT"}},
	})

	assert.Contains(t, answer.Text, "Polkadot")
	assert.Contains(t, answer.Text, "What is the latest news about Polkadot?")
}

func TestHandler_ComposeDirect(t *testing.T) {
	llm := &fakeGenerator{response: &genai.Response{Text: "Hello! Ask me about any cryptocurrency."}}
	handler := createTestHandler(t, llm, nil)

	answer, err := handler.ComposeDirect(context.Background(), createQuery("hi there"))

	require.NoError(t, err)
	assert.False(t, answer.Grounded)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, "Hello! Ask me about any cryptocurrency.", answer.Text)
	// Direct replies carry no citation block and no disclaimer.
	assert.False(t, strings.Contains(answer.Text, "Sources:"))
}

func TestHandler_ComposeDirect_EmptyTextIsError(t *testing.T) {
	llm := &fakeGenerator{response: &genai.Response{Text: "   "}}
	handler := createTestHandler(t, llm, nil)

	_, err := handler.ComposeDirect(context.Background(), createQuery("hi"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposeFailed)
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandler_ComposeGrounded_StageTimeoutApplies(t *testing.T) {
	cfg := LoadConfig()
	cfg.Timeout = 5 * time.Millisecond
	handler := NewHandler(cfg, blockingGenerator{}, nil, logger.NewTestLogger(t))

	_, err := handler.ComposeGrounded(context.Background(), createQuery("BTC news"), citedDigest(), bullish())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComposeFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

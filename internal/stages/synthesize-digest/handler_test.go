// internal/stages/synthesize-digest/handler_test.go
package synthesizedigest

import (
	"context"
	"errors"
	"testing"
	"time"

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

func evidenceSet(sourceIDs ...string) models.EvidenceSet {
	var set models.EvidenceSet
	for _, id := range sourceIDs {
		set.Candidates = append(set.Candidates, models.EvidenceCandidate{
			ID:          "chunk-" + id,
			Text:        "passage from " + id,
			SourceID:    id,
			PublishedAt: time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC),
			Score:       0.8,
		})
	}
	return set
}

func TestHandler_Execute_EmptySetSkipsModel(t *testing.T) {
	llm := &fakeGenerator{}
	handler := createTestHandler(t, llm)

	digest, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, models.EvidenceSet{})

	require.NoError(t, err)
	assert.True(t, digest.InsufficientEvidence)
	assert.Empty(t, digest.Facts)
	assert.Equal(t, 0, llm.calls)
}

func TestHandler_Execute_Success(t *testing.T) {
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: `{"facts": [
				{"text": "Bitcoin rose 5% after the ETF approval.", "sources": ["src-a"]},
				{"text": "Trading volume doubled on major exchanges.", "sources": ["src-a", "src-b"]}
			]}`,
		},
	}
	handler := createTestHandler(t, llm)

	digest, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, evidenceSet("src-a", "src-b"))

	require.NoError(t, err)
	assert.False(t, digest.InsufficientEvidence)
	require.Len(t, digest.Facts, 2)
	assert.Equal(t, []string{"src-a"}, digest.Facts[0].Sources)
	assert.ElementsMatch(t, []string{"src-a", "src-b"}, digest.SourceIDs())
}

func TestHandler_Execute_DropsFactsWithUnknownCitations(t *testing.T) {
	// The second fact cites a source the evidence set never contained, the
	// third mixes a real and an invented one. Only invented-only facts drop.
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: `{"facts": [
				{"text": "Bitcoin rose 5%.", "sources": ["src-a"]},
				{"text": "Aliens bought the dip.", "sources": ["src-made-up"]},
				{"text": "Volume doubled.", "sources": ["src-fake", "src-b"]}
			]}`,
		},
	}
	handler := createTestHandler(t, llm)

	digest, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, evidenceSet("src-a", "src-b"))

	require.NoError(t, err)
	require.Len(t, digest.Facts, 2)
	assert.Equal(t, "Bitcoin rose 5%.", digest.Facts[0].Text)
	assert.Equal(t, "Volume doubled.", digest.Facts[1].Text)
	assert.Equal(t, []string{"src-b"}, digest.Facts[1].Sources)
}

func TestHandler_Execute_AllFactsUncitedMeansInsufficient(t *testing.T) {
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: `{"facts": [{"text": "Unverifiable claim.", "sources": ["src-nowhere"]}]}`,
		},
	}
	handler := createTestHandler(t, llm)

	digest, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, evidenceSet("src-a"))

	require.NoError(t, err)
	assert.True(t, digest.InsufficientEvidence)
	assert.Empty(t, digest.Facts)
}

func TestHandler_Execute_DeduplicatesRestatedFacts(t *testing.T) {
	llm := &fakeGenerator{
		response: &genai.Response{
			Text: `{"facts": [
				{"text": "Bitcoin rose 5% today.", "sources": ["src-a"]},
				{"text": "Bitcoin rose 5% today!", "sources": ["src-a", "src-b"]}
			]}`,
		},
	}
	handler := createTestHandler(t, llm)

	digest, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, evidenceSet("src-a", "src-b"))

	require.NoError(t, err)
	require.Len(t, digest.Facts, 1)
	// The restatement with the larger citation set wins.
	assert.ElementsMatch(t, []string{"src-a", "src-b"}, digest.Facts[0].Sources)
}

func TestHandler_Execute_ErrorCases(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeGenerator
	}{
		{"provider error", &fakeGenerator{err: errors.New("upstream 500")}},
		{"non-json response", &fakeGenerator{response: &genai.Response{Text: "here are the facts: ..."}}},
		{"schema mismatch", &fakeGenerator{response: &genai.Response{Text: `{"facts": "none"}`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := createTestHandler(t, tt.llm)

			_, err := handler.Execute(context.Background(), models.Query{Text: "BTC"}, evidenceSet("src-a"))

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSynthesisFailed)
		})
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandler_Execute_StageTimeoutApplies(t *testing.T) {
	cfg := LoadConfig()
	cfg.Timeout = 5 * time.Millisecond
	handler := NewHandler(cfg, blockingGenerator{}, logger.NewTestLogger(t))

	_, err := handler.Execute(context.Background(), models.Query{Text: "BTC news"}, evidenceSet("src-a", "src-b"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

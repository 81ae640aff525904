// internal/stages/compose-answer/handler.go
package composeanswer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/metrics"
	"github.com/navidpourhadi/Crypto-RAG/internal/evidence"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
)

const StageName = "compose-answer"

var ErrComposeFailed = errors.New("ANSWER_COMPOSE_FAILED")

const Disclaimer = "This is market information, not financial advice. Always do your own research."

type Generator interface {
	Generate(ctx context.Context, req *genai.Request) (*genai.Response, error)
}

// ArticleLookup enriches bare source identifiers into human-readable
// citations. May be nil when no article catalog is configured.
type ArticleLookup interface {
	GetBySourceIDs(ctx context.Context, sourceIDs []string) (map[string]evidence.Article, error)
}

type Handler struct {
	config   *Config
	llm      Generator
	articles ArticleLookup
	logger   logger.Logger
}

func NewHandler(config *Config, llm Generator, articles ArticleLookup, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		llm:      llm,
		articles: articles,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

// ComposeGrounded renders the digest and assessment into cited prose. The
// answer's sources are exactly the digest's citations, never anything the
// model invents.
func (h *Handler) ComposeGrounded(ctx context.Context, query models.Query, digest models.SynthesisDigest, assessment models.ImpactAssessment) (models.Answer, error) {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	resp, err := h.llm.Generate(ctx, &genai.Request{
		System: composeSystemPrompt,
		Prompt: buildComposePrompt(query, digest, assessment),
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("%w: %w", ErrComposeFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return models.Answer{}, fmt.Errorf("%w: empty answer text", ErrComposeFailed)
	}

	sources := digest.SourceIDs()
	citations := h.renderCitations(ctx, sources)

	var b strings.Builder
	b.WriteString(text)
	if len(citations) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, c := range citations {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("\n" + Disclaimer)

	return models.Answer{
		Text:           b.String(),
		Sources:        sources,
		Grounded:       true,
		ConversationID: query.ConversationID,
		TurnIndex:      query.TurnIndex,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// ComposeFallback produces the deterministic no-evidence response. It never
// calls the model, so an empty store always yields the same text for the
// same question.
func (h *Handler) ComposeFallback(query models.Query, intent models.ExtractedIntent) models.Answer {
	metrics.NoEvidenceFallbacks.Inc()

	var b strings.Builder
	b.WriteString("I could not find recent news coverage to answer that question about ")
	if names := intent.EntityNames(); len(names) > 0 {
		b.WriteString(strings.Join(names, ", "))
	} else {
		b.WriteString("the crypto market")
	}
	b.WriteString(".\n\nYou could try rephrasing, for example:\n")
	for _, s := range rephraseSuggestions(query, intent) {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\n" + Disclaimer)

	return models.Answer{
		Text:           b.String(),
		Sources:        nil,
		Grounded:       false,
		ConversationID: query.ConversationID,
		TurnIndex:      query.TurnIndex,
		GeneratedAt:    time.Now().UTC(),
	}
}

// ComposeDirect answers conversational turns that need no evidence, such as
// greetings or questions about the assistant itself.
func (h *Handler) ComposeDirect(ctx context.Context, query models.Query) (models.Answer, error) {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	resp, err := h.llm.Generate(ctx, &genai.Request{
		System: directSystemPrompt,
		Prompt: query.Text,
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("%w: %w", ErrComposeFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return models.Answer{}, fmt.Errorf("%w: empty answer text", ErrComposeFailed)
	}

	return models.Answer{
		Text:           text,
		Sources:        nil,
		Grounded:       false,
		ConversationID: query.ConversationID,
		TurnIndex:      query.TurnIndex,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// renderCitations resolves source identifiers against the article catalog.
// A catalog miss or lookup failure degrades to the bare identifier rather
// than dropping the citation.
func (h *Handler) renderCitations(ctx context.Context, sourceIDs []string) []string {
	if len(sourceIDs) == 0 {
		return nil
	}

	var catalog map[string]evidence.Article
	if h.articles != nil {
		var err error
		catalog, err = h.articles.GetBySourceIDs(ctx, sourceIDs)
		if err != nil {
			h.logger.Warn("article lookup failed, citing bare identifiers", map[string]interface{}{
				"error": err.Error(),
			})
			catalog = nil
		}
	}

	citations := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if a, ok := catalog[id]; ok {
			citations = append(citations, fmt.Sprintf("%s — %s (%s)",
				a.Title, a.SourceName, a.PublishedAt.Format("2006-01-02")))
			continue
		}
		citations = append(citations, id)
	}
	return citations
}

func rephraseSuggestions(query models.Query, intent models.ExtractedIntent) []string {
	var suggestions []string
	if names := intent.EntityNames(); len(names) > 0 {
		suggestions = append(suggestions,
			fmt.Sprintf("What is the latest news about %s?", names[0]),
			fmt.Sprintf("How has market sentiment around %s changed recently?", names[0]))
	} else {
		suggestions = append(suggestions,
			"What are the biggest crypto market stories this week?",
			"Name a specific coin, for example: What is happening with Bitcoin?")
	}
	suggestions = append(suggestions,
		fmt.Sprintf("Try broader wording than: %q", query.Text))
	return suggestions
}

const composeSystemPrompt = `You are a cryptocurrency market assistant. Write a clear, ` +
	`conversational answer using ONLY the facts provided. Mention the sentiment assessment ` +
	`where it helps. Do not add information beyond the facts, do not list sources yourself, ` +
	`and do not give financial advice.`

const directSystemPrompt = `You are a cryptocurrency market assistant. Answer the user's ` +
	`conversational message briefly and politely. Do not invent market facts; if the user ` +
	`asks about market events, invite them to ask about a specific coin or topic.`

func buildComposePrompt(query models.Query, digest models.SynthesisDigest, assessment models.ImpactAssessment) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("User question: %s", query.Text))
	if query.ContextSummary != "" {
		parts = append(parts, fmt.Sprintf("Conversation context: %s", query.ContextSummary))
	}
	parts = append(parts, "\nFacts:")
	for i, f := range digest.Facts {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, f.Text))
	}
	parts = append(parts, fmt.Sprintf("\nSentiment: %s (confidence %.2f)",
		assessment.Sentiment, assessment.Confidence))
	if assessment.Rationale != "" {
		parts = append(parts, fmt.Sprintf("Rationale: %s", assessment.Rationale))
	}
	if len(assessment.AffectedEntities) > 0 {
		parts = append(parts, fmt.Sprintf("Affected assets: %s",
			strings.Join(assessment.AffectedEntities, ", ")))
	}
	parts = append(parts, "\nWrite the answer.")
	return strings.Join(parts, "\n")
}

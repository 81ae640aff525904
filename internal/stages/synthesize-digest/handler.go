// internal/stages/synthesize-digest/handler.go
package synthesizedigest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/metrics"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/validation"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
)

const StageName = "synthesize-digest"

var ErrSynthesisFailed = errors.New("DIGEST_SYNTHESIS_FAILED")

type Generator interface {
	Generate(ctx context.Context, req *genai.Request) (*genai.Response, error)
}

type Handler struct {
	config *Config
	llm    Generator
	logger logger.Logger
}

func NewHandler(config *Config, llm Generator, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		llm:    llm,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

var digestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"facts"},
	"properties": map[string]interface{}{
		"facts": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"text", "sources"},
				"properties": map[string]interface{}{
					"text": map[string]interface{}{"type": "string", "minLength": 1},
					"sources": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	},
}

// Execute condenses the EvidenceSet into cited facts. An empty set
// short-circuits without a model call. No fact survives without at least one
// citation that is actually present in the set.
func (h *Handler) Execute(ctx context.Context, query models.Query, set models.EvidenceSet) (models.SynthesisDigest, error) {
	if set.Empty() {
		h.logger.Info("no evidence, skipping synthesis", nil)
		return models.SynthesisDigest{InsufficientEvidence: true}, nil
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	resp, err := h.llm.Generate(ctx, &genai.Request{
		System: synthesisSystemPrompt,
		Prompt: buildSynthesisPrompt(query, set),
	})
	if err != nil {
		return models.SynthesisDigest{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	raw := genai.ExtractJSON(resp.Text)
	if err := validation.ValidateJSON(raw, digestSchema); err != nil {
		return models.SynthesisDigest{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	var parsed struct {
		Facts []struct {
			Text    string   `json:"text"`
			Sources []string `json:"sources"`
		} `json:"facts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.SynthesisDigest{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	var facts []models.Fact
	for _, f := range parsed.Facts {
		fact := models.Fact{Text: strings.TrimSpace(f.Text)}
		if fact.Text == "" {
			continue
		}
		for _, s := range f.Sources {
			if set.HasSource(s) {
				fact.Sources = append(fact.Sources, s)
			}
		}
		if len(fact.Sources) == 0 {
			// A fact the model could not tie to retrieved evidence is a
			// defect, not an answer ingredient.
			metrics.CitationInvariantViolations.Inc()
			h.logger.WithError(apperrors.NewInvariantViolationError(fact.Text)).
				Error("dropping uncited fact", map[string]interface{}{
					"fact": fact.Text,
				})
			continue
		}
		facts = append(facts, fact)
	}

	facts = dedupeFacts(facts)
	if h.config.MaxFacts > 0 && len(facts) > h.config.MaxFacts {
		facts = facts[:h.config.MaxFacts]
	}

	digest := models.SynthesisDigest{Facts: facts}
	if digest.Empty() {
		digest.InsufficientEvidence = true
	}

	h.logger.Info("digest synthesized", map[string]interface{}{
		"facts":   len(digest.Facts),
		"sources": len(digest.SourceIDs()),
	})

	return digest, nil
}

var normalizePattern = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeFactText(text string) string {
	lower := strings.ToLower(text)
	lower = normalizePattern.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(lower), " ")
}

// dedupeFacts collapses the same claim restated across sources, keeping the
// version with the larger citation set.
func dedupeFacts(facts []models.Fact) []models.Fact {
	best := make(map[string]int)
	var order []string
	for i, f := range facts {
		key := normalizeFactText(f.Text)
		if prev, ok := best[key]; ok {
			if len(f.Sources) > len(facts[prev].Sources) {
				best[key] = i
			}
			continue
		}
		best[key] = i
		order = append(order, key)
	}

	deduped := make([]models.Fact, 0, len(order))
	for _, key := range order {
		deduped = append(deduped, facts[best[key]])
	}
	return deduped
}

const synthesisSystemPrompt = `You extract factual statements from cryptocurrency news passages. ` +
	`Each passage is labeled with its source identifier. Respond with ONLY a JSON object: ` +
	`{"facts": [{"text": string, "sources": [source identifiers]}]}. ` +
	`Every fact MUST cite at least one of the given identifiers. ` +
	`Never state anything the passages do not say. No prose, no markdown.`

func buildSynthesisPrompt(query models.Query, set models.EvidenceSet) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("User question: %s", query.Text))
	parts = append(parts, "\nRetrieved passages:")
	for _, c := range set.Candidates {
		parts = append(parts, fmt.Sprintf("[%s] (published %s) %s",
			c.SourceID, c.PublishedAt.Format("2006-01-02"), c.Text))
	}
	parts = append(parts, "\nExtract the facts relevant to the question.")
	return strings.Join(parts, "\n")
}

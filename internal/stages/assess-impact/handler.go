// internal/stages/assess-impact/handler.go
package assessimpact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/validation"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
)

const StageName = "assess-impact"

var ErrAssessmentFailed = errors.New("IMPACT_ASSESSMENT_FAILED")

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

var assessmentSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"sentiment", "confidence", "rationale"},
	"properties": map[string]interface{}{
		"sentiment": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"bullish", "bearish", "neutral", "mixed", "unknown"},
		},
		"confidence": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"entities": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"rationale": map[string]interface{}{"type": "string"},
	},
}

// Execute judges market sentiment over the synthesized facts. A digest with
// insufficient evidence is assessed as unknown without a model call.
func (h *Handler) Execute(ctx context.Context, intent models.ExtractedIntent, digest models.SynthesisDigest) (models.ImpactAssessment, error) {
	if digest.InsufficientEvidence || digest.Empty() {
		return models.ImpactAssessment{
			Sentiment:  models.SentimentUnknown,
			Confidence: 0,
			Rationale:  "Not enough recent evidence was found to judge market impact.",
		}, nil
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	resp, err := h.llm.Generate(ctx, &genai.Request{
		System: assessmentSystemPrompt,
		Prompt: buildAssessmentPrompt(intent, digest),
	})
	if err != nil {
		return models.ImpactAssessment{}, fmt.Errorf("%w: %w", ErrAssessmentFailed, err)
	}

	raw := genai.ExtractJSON(resp.Text)
	if err := validation.ValidateJSON(raw, assessmentSchema); err != nil {
		return models.ImpactAssessment{}, fmt.Errorf("%w: %v", ErrAssessmentFailed, err)
	}

	var parsed struct {
		Sentiment  string   `json:"sentiment"`
		Confidence float64  `json:"confidence"`
		Entities   []string `json:"entities"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ImpactAssessment{}, fmt.Errorf("%w: %v", ErrAssessmentFailed, err)
	}

	sentiment := models.Sentiment(parsed.Sentiment)
	if !models.ValidSentiment(sentiment) {
		sentiment = models.SentimentUnknown
	}

	assessment := models.ImpactAssessment{
		Sentiment:        sentiment,
		Confidence:       clamp01(parsed.Confidence),
		AffectedEntities: filterEntities(parsed.Entities, intent, digest),
		Rationale:        strings.TrimSpace(parsed.Rationale),
	}

	h.logger.Info("impact assessed", map[string]interface{}{
		"sentiment":  string(assessment.Sentiment),
		"confidence": assessment.Confidence,
		"entities":   len(assessment.AffectedEntities),
	})

	return assessment, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// filterEntities keeps only entities the conversation actually surfaced,
// either through intent extraction or a fact's text.
func filterEntities(entities []string, intent models.ExtractedIntent, digest models.SynthesisDigest) []string {
	known := make(map[string]bool)
	for _, e := range intent.Entities {
		known[strings.ToLower(e.Name)] = true
		if e.Ticker != "" {
			known[strings.ToLower(e.Ticker)] = true
		}
	}

	var factText strings.Builder
	for _, f := range digest.Facts {
		factText.WriteString(strings.ToLower(f.Text))
		factText.WriteString(" ")
	}
	corpus := factText.String()

	seen := make(map[string]bool)
	var kept []string
	for _, e := range entities {
		name := strings.TrimSpace(e)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		if known[key] || strings.Contains(corpus, key) {
			seen[key] = true
			kept = append(kept, name)
		}
	}
	return kept
}

const assessmentSystemPrompt = `You are a cryptocurrency market analyst. Given cited facts, ` +
	`judge the overall market sentiment they imply. Respond with ONLY a JSON object: ` +
	`{"sentiment": "bullish"|"bearish"|"neutral"|"mixed"|"unknown", "confidence": 0..1, ` +
	`"entities": [affected asset names], "rationale": string}. ` +
	`Base the rationale strictly on the given facts. No prose outside the JSON.`

func buildAssessmentPrompt(intent models.ExtractedIntent, digest models.SynthesisDigest) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Question category: %s", intent.Category))
	if names := intent.EntityNames(); len(names) > 0 {
		parts = append(parts, fmt.Sprintf("Assets in question: %s", strings.Join(names, ", ")))
	}
	parts = append(parts, "\nFacts:")
	for i, f := range digest.Facts {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, f.Text))
	}
	parts = append(parts, "\nAssess the market impact.")
	return strings.Join(parts, "\n")
}

// internal/stages/extract-intent/handler.go
package extractintent

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

const StageName = "extract-intent"

var ErrExtractionFailed = errors.New("INTENT_EXTRACTION_FAILED")

// Generator is the slice of the GenAI client this stage needs.
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

var intentSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"category", "confidence", "entities"},
	"properties": map[string]interface{}{
		"category": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"price_inquiry", "regulatory", "sentiment", "market_event", "general"},
		},
		"confidence": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"entities": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"name"},
				"properties": map[string]interface{}{
					"name":       map[string]interface{}{"type": "string"},
					"ticker":     map[string]interface{}{"type": "string"},
					"confidence": map[string]interface{}{"type": "number"},
				},
			},
		},
	},
}

// Execute classifies the query's intent and extracts cryptocurrency mentions.
// Extraction is advisory, not load-bearing: it never fails the turn. Any model
// or parse error degrades to the generic intent with lexicon-scanned entities.
func (h *Handler) Execute(ctx context.Context, query models.Query) models.ExtractedIntent {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	intent, err := h.extract(ctx, query)
	if err != nil {
		h.logger.Warn("intent extraction degraded to generic", map[string]interface{}{
			"conversationId": query.ConversationID.String(),
			"turnIndex":      query.TurnIndex,
			"error":          err.Error(),
		})
		return degradedIntent(query.Text)
	}
	return intent
}

func (h *Handler) extract(ctx context.Context, query models.Query) (models.ExtractedIntent, error) {
	cold := 0.1
	resp, err := h.llm.Generate(ctx, &genai.Request{
		System:      extractionSystemPrompt,
		Prompt:      buildExtractionPrompt(query),
		Temperature: &cold,
	})
	if err != nil {
		return models.ExtractedIntent{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	raw := genai.ExtractJSON(resp.Text)
	if err := validation.ValidateJSON(raw, intentSchema); err != nil {
		return models.ExtractedIntent{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Entities   []struct {
			Name       string  `json:"name"`
			Ticker     string  `json:"ticker"`
			Confidence float64 `json:"confidence"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ExtractedIntent{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	intent := models.ExtractedIntent{
		Category:   models.IntentCategory(parsed.Category),
		Confidence: parsed.Confidence,
	}
	if !models.ValidIntent(intent.Category) {
		intent.Category = models.IntentGeneral
	}
	for _, e := range parsed.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		intent.Entities = append(intent.Entities, models.EntityMention{
			Name:       e.Name,
			Ticker:     strings.ToUpper(e.Ticker),
			Confidence: conf,
		})
	}

	intent.Entities = mergeMentions(intent.Entities, ScanEntities(query.Text))

	h.logger.Info("intent extracted", map[string]interface{}{
		"category":    string(intent.Category),
		"confidence":  intent.Confidence,
		"entityCount": len(intent.Entities),
	})

	return intent, nil
}

func degradedIntent(queryText string) models.ExtractedIntent {
	return models.ExtractedIntent{
		Category:   models.IntentGeneral,
		Confidence: 0.2,
		Entities:   ScanEntities(queryText),
		Degraded:   true,
	}
}

// mergeMentions unions model-extracted mentions with lexicon matches,
// preferring the model's entry when both name the same asset.
func mergeMentions(fromModel, fromLexicon []models.EntityMention) []models.EntityMention {
	merged := make([]models.EntityMention, 0, len(fromModel)+len(fromLexicon))
	seen := make(map[string]bool)
	for _, m := range fromModel {
		key := strings.ToLower(m.Name)
		if m.Ticker != "" {
			key = m.Ticker
		}
		seen[key] = true
		merged = append(merged, m)
	}
	for _, m := range fromLexicon {
		if seen[m.Ticker] || seen[strings.ToLower(m.Name)] {
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

const extractionSystemPrompt = `You classify cryptocurrency market questions. ` +
	`Respond with ONLY a JSON object: {"category": one of ` +
	`["price_inquiry","regulatory","sentiment","market_event","general"], ` +
	`"confidence": 0.0-1.0, "entities": [{"name": string, "ticker": string, "confidence": 0.0-1.0}]}. ` +
	`List every cryptocurrency the user refers to. No prose, no markdown.`

func buildExtractionPrompt(query models.Query) string {
	var parts []string
	if query.ContextSummary != "" {
		parts = append(parts, fmt.Sprintf("Conversation so far: %s", query.ContextSummary))
	}
	parts = append(parts, fmt.Sprintf("User question: %s", query.Text))
	return strings.Join(parts, "\n")
}

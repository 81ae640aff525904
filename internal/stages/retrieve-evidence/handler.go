// internal/stages/retrieve-evidence/handler.go
package retrieveevidence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/metrics"
	"github.com/navidpourhadi/Crypto-RAG/internal/evidence"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
)

const StageName = "retrieve-evidence"

var ErrRetrievalFailed = errors.New("EVIDENCE_RETRIEVAL_FAILED")

// Embedder is the slice of the embedding provider this stage needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// Searcher is the slice of the evidence store this stage needs.
type Searcher interface {
	Search(ctx context.Context, queryVector []float64, topK int) ([]models.EvidenceCandidate, error)
}

// Output carries the merged EvidenceSet plus the distinguishable no-evidence
// outcome. NoEvidence is not an error.
type Output struct {
	Evidence        models.EvidenceSet
	NoEvidence      bool
	RewriteAttempts int
}

type Handler struct {
	config   *Config
	embedder Embedder
	store    Searcher
	logger   logger.Logger
}

func NewHandler(config *Config, embedder Embedder, store Searcher, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		embedder: embedder,
		store:    store,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

// Execute searches for evidence, rewriting the query when the initial search
// comes back empty or entirely below the score floor. Candidates below the
// floor are discarded before merging, so low-score-only results take the same
// path as empty results. Returns an error only when the evidence store or the
// embedding provider was unreachable for every attempted search.
func (h *Handler) Execute(ctx context.Context, query models.Query, intent models.ExtractedIntent) (*Output, error) {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	var (
		results   []models.RetrievalResult
		succeeded int
		lastErr   error
	)

	search := func(variant, text string) {
		candidates, err := h.searchVariant(ctx, variant, text)
		if err != nil {
			lastErr = err
			h.logger.Warn("search attempt failed", map[string]interface{}{
				"variant": variant,
				"error":   err.Error(),
			})
			return
		}
		succeeded++
		results = append(results, models.RetrievalResult{Variant: variant, Candidates: candidates})
	}

	search("original", enrichQuery(query.Text, intent))

	var rewrites int
	if !h.meetsThreshold(results) && !abortRewrites(lastErr) {
		variants := RewriteVariants(query.Text, intent.EntityNames(), h.config.MaxRewrites)
		for i, text := range variants {
			if ctx.Err() != nil {
				break
			}
			rewrites++
			metrics.RetrievalRewrites.Inc()
			search(fmt.Sprintf("rewrite-%d", i+1), text)
			if h.meetsThreshold(results) || abortRewrites(lastErr) {
				break
			}
		}
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, lastErr)
	}

	merged := models.MergeResults(results, h.config.TopN)
	metrics.RetrievalCandidates.Observe(float64(len(merged.Candidates)))

	out := &Output{
		Evidence:        merged,
		NoEvidence:      merged.Empty(),
		RewriteAttempts: rewrites,
	}

	h.logger.Info("retrieval completed", map[string]interface{}{
		"candidates":      len(merged.Candidates),
		"noEvidence":      out.NoEvidence,
		"rewriteAttempts": out.RewriteAttempts,
	})

	return out, nil
}

func (h *Handler) searchVariant(ctx context.Context, variant, text string) ([]models.EvidenceCandidate, error) {
	vector, err := h.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", variant, err)
	}

	candidates, err := h.store.Search(ctx, vector, h.config.TopK)
	if err != nil {
		if errors.Is(err, evidence.ErrStoreUnavailable) || errors.Is(err, evidence.ErrStoreTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("search %q: %w", variant, err)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score < h.config.ScoreFloor {
			continue
		}
		c.QueryVariant = variant
		kept = append(kept, c)
	}
	return kept, nil
}

// abortRewrites reports whether the last search failure rules out further
// attempts within this turn. A timed-out store is worth another try with the
// next variant, an unreachable one is not.
func abortRewrites(err error) bool {
	return err != nil && !apperrors.IsRetryable(err)
}

// meetsThreshold checks whether the accumulated results already satisfy the
// minimum-evidence requirement, allowing the rewrite loop to stop early.
func (h *Handler) meetsThreshold(results []models.RetrievalResult) bool {
	merged := models.MergeResults(results, h.config.TopN)
	return len(merged.Candidates) >= h.config.MinEvidence
}

// enrichQuery appends extracted entity names the user's phrasing did not carry
// verbatim, sharpening the query embedding.
func enrichQuery(queryText string, intent models.ExtractedIntent) string {
	lower := strings.ToLower(queryText)
	extra := make([]string, 0, len(intent.Entities))
	for _, e := range intent.Entities {
		if !strings.Contains(lower, strings.ToLower(e.Name)) {
			extra = append(extra, e.Name)
		}
	}
	if len(extra) == 0 {
		return queryText
	}
	return queryText + " " + strings.Join(extra, " ")
}

// internal/evidence/store.go
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
)

var (
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
	ErrStoreTimeout     = errors.New("STORE_TIMEOUT")
	ErrSearchFailed     = errors.New("SEARCH_QUERY_FAILED")
)

type StoreConfig struct {
	Index       string
	VectorField string
}

// Store is the typed client over the news vector index. Given a query
// embedding it returns ranked passages with their source metadata. Stateless;
// ingestion is a separate external writer.
type Store struct {
	config   *StoreConfig
	esClient *elasticsearch.Client
	logger   logger.Logger
}

func NewStore(config *StoreConfig, esClient *elasticsearch.Client, log logger.Logger) *Store {
	return &Store{
		config:   config,
		esClient: esClient,
		logger: log.With(map[string]interface{}{
			"component": "evidence-store",
		}),
	}
}

// Search runs a kNN query against the news index and returns up to topK
// candidates, score-descending. Hits missing a source identifier or a
// publication timestamp are skipped; the ingestion pipeline guarantees both,
// so a gap is logged as a data defect rather than surfaced.
func (s *Store) Search(ctx context.Context, queryVector []float64, topK int) ([]models.EvidenceCandidate, error) {
	queryBody := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          s.config.VectorField,
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 4,
		},
		"_source": []string{"text", "source_id", "published_at"},
		"size":    topK,
	}

	body, _ := json.Marshal(queryBody)

	req := esapi.SearchRequest{
		Index: []string{s.config.Index},
		Body:  strings.NewReader(string(body)),
	}

	res, err := req.Do(ctx, s.esClient)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewStoreTimeoutError(ErrStoreTimeout)
		}
		return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode >= 500 {
			return nil, apperrors.NewStoreUnavailableError(fmt.Errorf("%w: %s", ErrStoreUnavailable, res.Status()))
		}
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.Status())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Text        string `json:"text"`
					SourceID    string `json:"source_id"`
					PublishedAt string `json:"published_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrSearchFailed, err)
	}

	candidates := make([]models.EvidenceCandidate, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		if hit.Source.SourceID == "" || hit.Source.PublishedAt == "" {
			s.logger.Warn("indexed passage missing source metadata", map[string]interface{}{
				"hitId": hit.ID,
			})
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, hit.Source.PublishedAt)
		if err != nil {
			s.logger.Warn("indexed passage has unparseable timestamp", map[string]interface{}{
				"hitId":       hit.ID,
				"publishedAt": hit.Source.PublishedAt,
			})
			continue
		}
		candidates = append(candidates, models.EvidenceCandidate{
			ID:          hit.ID,
			Text:        hit.Source.Text,
			SourceID:    hit.Source.SourceID,
			PublishedAt: publishedAt,
			Score:       hit.Score,
		})
	}

	return candidates, nil
}

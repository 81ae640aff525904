// internal/evidence/articles.go
package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

// Article is the catalog row for one ingested news article, keyed by the
// source identifier carried on indexed passages.
type Article struct {
	SourceID    string    `json:"sourceId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SourceName  string    `json:"sourceName"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ArticleRepo reads citation metadata from the article catalog. Lookup
// failures degrade citations to bare identifiers, they never abort a turn.
type ArticleRepo struct {
	db     *sql.DB
	logger logger.Logger
}

func NewArticleRepo(db *sql.DB, log logger.Logger) *ArticleRepo {
	return &ArticleRepo{
		db: db,
		logger: log.With(map[string]interface{}{
			"component": "article-repo",
		}),
	}
}

const articlesBySourceQuery = `
	SELECT source_id, title, url, source_name, published_at
	FROM news_articles
	WHERE source_id = ANY($1)`

// GetBySourceIDs returns catalog rows for the given identifiers, keyed by
// source identifier. Missing identifiers are simply absent from the result.
func (r *ArticleRepo) GetBySourceIDs(ctx context.Context, sourceIDs []string) (map[string]Article, error) {
	if len(sourceIDs) == 0 {
		return map[string]Article{}, nil
	}

	rows, err := r.db.QueryContext(ctx, articlesBySourceQuery, pq.Array(sourceIDs))
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	articles := make(map[string]Article, len(sourceIDs))
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.SourceID, &a.Title, &a.URL, &a.SourceName, &a.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles[a.SourceID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	return articles, nil
}

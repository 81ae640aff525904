// internal/evidence/articles_test.go
package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

func createTestRepo(t *testing.T) (*ArticleRepo, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewArticleRepo(db, logger.NewTestLogger(t)), mock
}

func TestArticleRepo_GetBySourceIDs_Success(t *testing.T) {
	repo, mock := createTestRepo(t)

	published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT source_id, title, url, source_name, published_at").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "title", "url", "source_name", "published_at"}).
			AddRow("src-a", "Spot ETF Approved", "https://example.com/etf", "CoinDesk", published).
			AddRow("src-b", "Volume Doubles", "https://example.com/volume", "The Block", published))

	articles, err := repo.GetBySourceIDs(context.Background(), []string{"src-a", "src-b", "src-missing"})
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, "Spot ETF Approved", articles["src-a"].Title)
	assert.Equal(t, "The Block", articles["src-b"].SourceName)
	// Identifiers without a catalog row are simply absent.
	_, ok := articles["src-missing"]
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_GetBySourceIDs_EmptyInputSkipsQuery(t *testing.T) {
	repo, mock := createTestRepo(t)

	articles, err := repo.GetBySourceIDs(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, articles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_GetBySourceIDs_QueryError(t *testing.T) {
	repo, mock := createTestRepo(t)

	mock.ExpectQuery("SELECT source_id, title, url, source_name, published_at").
		WillReturnError(errors.New("connection refused"))

	_, err := repo.GetBySourceIDs(context.Background(), []string{"src-a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "query articles")
}

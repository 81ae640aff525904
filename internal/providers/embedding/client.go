// internal/providers/embedding/client.go
package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	commonhttp "github.com/navidpourhadi/Crypto-RAG/internal/common/http"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

var (
	ErrProvider = errors.New("EMBEDDING_PROVIDER_ERROR")
	ErrTimeout  = errors.New("EMBEDDING_TIMEOUT")
)

// Task types of the embedding API. Queries and indexed passages use
// asymmetric embeddings.
const (
	TaskRetrievalQuery   = "retrieval.query"
	TaskRetrievalPassage = "retrieval.passage"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// Client converts text into fixed-length vectors. Stateless; safe for
// concurrent use by multiple turns.
type Client struct {
	config *Config
	client *commonhttp.Client
	logger logger.Logger
}

func NewClient(config *Config, log logger.Logger) *Client {
	return &Client{
		config: config,
		client: commonhttp.NewClient(config.Timeout, config.MaxRetries),
		logger: log.With(map[string]interface{}{
			"component": "embedding-client",
		}),
	}
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.embed(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, contents []string, task string) ([][]float64, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrProvider)
	}

	input := make([]map[string]string, 0, len(contents))
	for _, text := range contents {
		input = append(input, map[string]string{"text": text})
	}

	payload := map[string]interface{}{
		"model":      c.config.Model,
		"task":       task,
		"dimensions": c.config.Dimensions,
		"input":      input,
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	}

	resp, err := c.client.PostJSON(ctx, c.config.BaseURL+"/v1/embeddings", headers, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewProviderTransientError(ErrTimeout)
		}
		return nil, apperrors.NewProviderFatalError(fmt.Errorf("%w: %v", ErrProvider, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperrors.NewProviderFatalError(fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, body))
	}

	var apiResponse struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrProvider, err)
	}

	if len(apiResponse.Data) != len(contents) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProvider, len(contents), len(apiResponse.Data))
	}

	vectors := make([][]float64, len(apiResponse.Data))
	for i, d := range apiResponse.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrProvider, i)
		}
		vectors[i] = d.Embedding
	}

	return vectors, nil
}

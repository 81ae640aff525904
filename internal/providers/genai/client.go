// internal/providers/genai/client.go
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	commonhttp "github.com/navidpourhadi/Crypto-RAG/internal/common/http"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

var (
	ErrLLMTimeout       = errors.New("LLM_TIMEOUT")
	ErrGenerationFailed = errors.New("LLM_GENERATION_FAILED")
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Request is one generation call. Temperature overrides the client default
// when non-nil; routing and extraction calls run colder than prose.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

type Response struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Client calls the GenAI text-generation API. Stateless; safe for concurrent
// use by multiple turns.
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
			"component": "genai-client",
		}),
	}
}

func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	payload := map[string]interface{}{
		"model":       c.config.Model,
		"system":      req.System,
		"prompt":      req.Prompt,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	}

	resp, err := c.client.PostJSON(ctx, c.config.BaseURL+"/api/ai/generate", headers, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewProviderTransientError(ErrLLMTimeout)
		}
		return nil, apperrors.NewProviderFatalError(fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperrors.NewProviderFatalError(fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, body))
	}

	var apiResponse Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrGenerationFailed, err)
	}

	if strings.TrimSpace(apiResponse.Text) == "" {
		return nil, fmt.Errorf("%w: empty generation", ErrGenerationFailed)
	}

	if apiResponse.Confidence < 0.0 || apiResponse.Confidence > 1.0 {
		apiResponse.Confidence = 0.5
	}

	return &apiResponse, nil
}

// ExtractJSON strips markdown code fences the model sometimes wraps around
// structured output.
func ExtractJSON(text string) []byte {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return []byte(trimmed)
}

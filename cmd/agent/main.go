// cmd/agent/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/navidpourhadi/Crypto-RAG/internal/api"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/config"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/database"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/observability"
	"github.com/navidpourhadi/Crypto-RAG/internal/evidence"
	"github.com/navidpourhadi/Crypto-RAG/internal/pipeline"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/embedding"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
	assessimpact "github.com/navidpourhadi/Crypto-RAG/internal/stages/assess-impact"
	composeanswer "github.com/navidpourhadi/Crypto-RAG/internal/stages/compose-answer"
	extractintent "github.com/navidpourhadi/Crypto-RAG/internal/stages/extract-intent"
	retrieveevidence "github.com/navidpourhadi/Crypto-RAG/internal/stages/retrieve-evidence"
	synthesizedigest "github.com/navidpourhadi/Crypto-RAG/internal/stages/synthesize-digest"
	"github.com/navidpourhadi/Crypto-RAG/internal/status"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting crypto market agent...",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, os.Getenv("JAEGER_ENDPOINT"))
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Elasticsearch with retry ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping()
	}, 10, 2*time.Second, zapLog, "Elasticsearch initialization")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL initialization")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis initialization")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- External model providers ---
	embedder := embedding.NewClient(&embedding.Config{
		BaseURL:    cfg.APIs.Embedding.BaseURL,
		APIKey:     cfg.APIs.Embedding.APIKey,
		Model:      cfg.APIs.Embedding.Model,
		Dimensions: cfg.APIs.Embedding.Dimensions,
		Timeout:    config.GetDuration(cfg.APIs.Embedding.Timeout),
		MaxRetries: cfg.APIs.Embedding.MaxRetries,
	}, log)

	llm := genai.NewClient(&genai.Config{
		BaseURL:     cfg.APIs.GenAI.BaseURL,
		APIKey:      cfg.APIs.GenAI.APIKey,
		Model:       cfg.APIs.GenAI.Model,
		MaxTokens:   cfg.APIs.GenAI.MaxTokens,
		Temperature: cfg.APIs.GenAI.Temperature,
		Timeout:     config.GetDuration(cfg.APIs.GenAI.Timeout),
		MaxRetries:  cfg.APIs.GenAI.MaxRetries,
	}, log)

	// --- Storage layers ---
	store := evidence.NewStore(&evidence.StoreConfig{
		Index:       cfg.Database.Elasticsearch.NewsIndex,
		VectorField: cfg.Database.Elasticsearch.VectorField,
	}, es.Client, log)

	articles := evidence.NewArticleRepo(pg.DB, log)
	recorder := status.NewRecorder(rdb.Client, 24*time.Hour, log)

	// --- Pipeline stages ---
	stageTimeout := config.GetDuration(cfg.Pipeline.StageTimeout)

	extractor := extractintent.NewHandler(&extractintent.Config{
		Timeout: stageTimeout,
	}, llm, log)

	retriever := retrieveevidence.NewHandler(&retrieveevidence.Config{
		TopK:        cfg.Retrieval.TopK,
		TopN:        cfg.Retrieval.TopN,
		ScoreFloor:  cfg.Retrieval.ScoreFloor,
		MinEvidence: cfg.Retrieval.MinEvidence,
		MaxRewrites: cfg.Retrieval.MaxRewrites,
		Timeout:     stageTimeout,
	}, embedder, store, log)

	synthesizer := synthesizedigest.NewHandler(&synthesizedigest.Config{
		Timeout:  stageTimeout,
		MaxFacts: 12,
	}, llm, log)

	assessor := assessimpact.NewHandler(&assessimpact.Config{
		Timeout: stageTimeout,
	}, llm, log)

	composer := composeanswer.NewHandler(&composeanswer.Config{
		Timeout: stageTimeout,
	}, llm, articles, log)

	controller := pipeline.NewController(
		&pipeline.Config{TurnTimeout: config.GetDuration(cfg.Pipeline.TurnTimeout)},
		extractor, retriever, synthesizer, assessor, composer,
		recorder, obs, log,
	)

	server := api.NewServer(cfg.Server, controller, recorder, log)

	go func() {
		if err := server.Start(); err != nil {
			zapLog.Fatal("api server failed", zap.Error(err))
		}
	}()

	zapLog.Info("Agent is up",
		zap.String("address", cfg.Server.Address),
		zap.String("metricsAddress", cfg.Server.MetricsAddress),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("shutdown incomplete", zap.Error(err))
	}
	zapLog.Info("Agent stopped")
}

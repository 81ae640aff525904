// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/config"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/pipeline"
	"github.com/navidpourhadi/Crypto-RAG/internal/status"
)

const maxQueryLength = 4096

// TurnRunner executes one question through the full answer pipeline.
type TurnRunner interface {
	Run(ctx context.Context, query models.Query) *pipeline.TurnState
}

// StatusSource reports where the most recent turn ended up.
type StatusSource interface {
	Last(ctx context.Context) (*status.TurnStatus, error)
}

type Server struct {
	config   config.ServerConfig
	runner   TurnRunner
	statuses StatusSource
	logger   logger.Logger

	httpServer    *http.Server
	metricsServer *http.Server
}

func NewServer(cfg config.ServerConfig, runner TurnRunner, statuses StatusSource, log logger.Logger) *Server {
	s := &Server{
		config:   cfg,
		runner:   runner,
		statuses: statuses,
		logger:   log.With(map[string]interface{}{"component": "api"}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Millisecond,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    cfg.MetricsAddress,
		Handler: metricsMux,
	}

	return s
}

// Start blocks serving the API. The metrics listener runs on its own port so
// scrapes never contend with chat traffic.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("metrics listener started", map[string]interface{}{
			"address": s.config.MetricsAddress,
		})
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics listener stopped", nil)
		}
	}()

	s.logger.Info("api listener started", map[string]interface{}{
		"address": s.config.Address,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.metricsServer.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	TurnIndex      int    `json:"turnIndex"`
	Query          string `json:"query"`
	ContextSummary string `json:"contextSummary"`
}

type chatResponse struct {
	ConversationID string    `json:"conversationId"`
	TurnIndex      int       `json:"turnIndex"`
	State          string    `json:"state"`
	Answer         string    `json:"answer"`
	Sources        []string  `json:"sources"`
	Grounded       bool      `json:"grounded"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(req.Query)
	if text == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if len(text) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		// A missing or malformed id starts a fresh conversation.
		conversationID = uuid.New()
	}

	turn := s.runner.Run(r.Context(), models.Query{
		ConversationID: conversationID,
		TurnIndex:      req.TurnIndex,
		Text:           text,
		ContextSummary: strings.TrimSpace(req.ContextSummary),
		ReceivedAt:     time.Now().UTC(),
	})

	sources := turn.Answer.Sources
	if sources == nil {
		sources = []string{}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conversationID.String(),
		TurnIndex:      req.TurnIndex,
		State:          string(turn.State),
		Answer:         turn.Answer.Text,
		Sources:        sources,
		Grounded:       turn.Answer.Grounded,
		GeneratedAt:    turn.Answer.GeneratedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	last, err := s.statuses.Last(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("status lookup failed", nil)
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	if last == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lastTurn": nil,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lastTurn": last,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

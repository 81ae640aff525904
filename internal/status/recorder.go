// internal/status/recorder.go
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
)

const lastTurnKey = "pipeline:last_turn"

// TurnStatus is the operational snapshot of the most recent completed turn,
// consumed by external health reporting.
type TurnStatus struct {
	ConversationID string    `json:"conversationId"`
	TurnIndex      int       `json:"turnIndex"`
	State          string    `json:"state"`
	EvidenceCount  int       `json:"evidenceCount"`
	UsedFallback   bool      `json:"usedFallback"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// Recorder persists the last-turn snapshot in Redis so status survives
// restarts and is visible to every replica.
type Recorder struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRecorder(client *redis.Client, ttl time.Duration, log logger.Logger) *Recorder {
	return &Recorder{
		client: client,
		ttl:    ttl,
		logger: log.With(map[string]interface{}{
			"component": "status-recorder",
		}),
	}
}

// Record overwrites the last-turn snapshot. Failures are logged and returned;
// callers treat them as non-fatal.
func (r *Recorder) Record(ctx context.Context, st TurnStatus) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal turn status: %w", err)
	}

	if err := r.client.Set(ctx, lastTurnKey, payload, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to record turn status", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("store turn status: %w", err)
	}
	return nil
}

// Last returns the most recent snapshot, or nil when no turn has completed
// within the TTL window.
func (r *Recorder) Last(ctx context.Context) (*TurnStatus, error) {
	payload, err := r.client.Get(ctx, lastTurnKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load turn status: %w", err)
	}

	var st TurnStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal turn status: %w", err)
	}
	return &st, nil
}

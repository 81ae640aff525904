// internal/models/query.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Query is the raw user turn handed to the pipeline. Immutable once received.
type Query struct {
	ConversationID uuid.UUID `json:"conversationId"`
	TurnIndex      int       `json:"turnIndex"`
	Text           string    `json:"text"`
	// ContextSummary carries a condensed view of prior turns, supplied by the
	// conversation layer. Empty for fresh conversations.
	ContextSummary string    `json:"contextSummary,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

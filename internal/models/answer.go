// internal/models/answer.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the final user-facing response for one turn.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
	// Grounded is false when the answer was produced without usable evidence
	// (no-evidence fallback, direct answer, or the generic error response).
	Grounded       bool      `json:"grounded"`
	ConversationID uuid.UUID `json:"conversationId"`
	TurnIndex      int       `json:"turnIndex"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

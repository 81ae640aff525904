// internal/pipeline/state.go
package pipeline

import (
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
)

// State names the stations a turn passes through. Every turn ends in
// StateDone or StateFailed.
type State string

const (
	StateReceived        State = "Received"
	StateIntentExtracted State = "IntentExtracted"
	StateRetrieved       State = "Retrieved"
	StateSynthesized     State = "Synthesized"
	StateAssessed        State = "Assessed"
	StateComposed        State = "Composed"
	StateDone            State = "Done"
	StateFailed          State = "Failed"
)

// TurnState carries everything accumulated across a single turn.
type TurnState struct {
	State State

	Query      models.Query
	Intent     models.ExtractedIntent
	Evidence   models.EvidenceSet
	NoEvidence bool
	Rewrites   int
	Digest     models.SynthesisDigest
	Assessment models.ImpactAssessment
	Answer     models.Answer

	FailureCode string
}

func (s *TurnState) advance(next State) {
	s.State = next
}

func (s *TurnState) Terminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// internal/models/impact.go
package models

type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
	SentimentMixed   Sentiment = "mixed"
	SentimentUnknown Sentiment = "unknown"
)

// ValidSentiment reports whether s is one of the known labels.
func ValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentBullish, SentimentBearish, SentimentNeutral, SentimentMixed, SentimentUnknown:
		return true
	}
	return false
}

// ImpactAssessment is the structured judgment of how the digest bears on the
// user's question. Derived strictly from cited facts, never independently
// sourced.
type ImpactAssessment struct {
	Sentiment        Sentiment `json:"sentiment"`
	Confidence       float64   `json:"confidence"`
	AffectedEntities []string  `json:"affectedEntities"`
	Rationale        string    `json:"rationale"`
}

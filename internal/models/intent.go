// internal/models/intent.go
package models

type IntentCategory string

const (
	IntentPriceInquiry IntentCategory = "price_inquiry"
	IntentRegulatory   IntentCategory = "regulatory"
	IntentSentiment    IntentCategory = "sentiment"
	IntentMarketEvent  IntentCategory = "market_event"
	IntentGeneral      IntentCategory = "general"
)

// ValidIntent reports whether c is one of the known categories.
func ValidIntent(c IntentCategory) bool {
	switch c {
	case IntentPriceInquiry, IntentRegulatory, IntentSentiment, IntentMarketEvent, IntentGeneral:
		return true
	}
	return false
}

// EntityMention is a cryptocurrency the user referred to, with the extractor's
// confidence in the match.
type EntityMention struct {
	Name       string  `json:"name"`
	Ticker     string  `json:"ticker"`
	Confidence float64 `json:"confidence"`
}

// ExtractedIntent is produced once per query and consumed read-only by the
// later stages.
type ExtractedIntent struct {
	Category   IntentCategory  `json:"category"`
	Confidence float64         `json:"confidence"`
	Entities   []EntityMention `json:"entities"`
	// Degraded is set when the extractor fell back to the generic intent after
	// a model failure. Advisory only; it never aborts the turn.
	Degraded bool `json:"degraded"`
}

// EntityNames returns the mentioned entity names in extraction order.
func (e ExtractedIntent) EntityNames() []string {
	names := make([]string, 0, len(e.Entities))
	for _, m := range e.Entities {
		names = append(names, m.Name)
	}
	return names
}

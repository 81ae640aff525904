// internal/models/evidence.go
package models

import (
	"sort"
	"time"
)

// EvidenceCandidate is one retrieved news passage. Candidates are immutable
// once retrieved; the ingestion pipeline guarantees a non-empty SourceID and
// PublishedAt on every indexed passage.
type EvidenceCandidate struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	SourceID     string    `json:"sourceId"`
	PublishedAt  time.Time `json:"publishedAt"`
	Score        float64   `json:"score"`
	QueryVariant string    `json:"queryVariant"`
}

// RetrievalResult is the ranked outcome of a single semantic search for one
// query variant.
type RetrievalResult struct {
	Variant    string              `json:"variant"`
	Candidates []EvidenceCandidate `json:"candidates"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Candidates) == 0
}

// EvidenceSet is the deduplicated, capped collection of candidates that
// synthesis runs over. Candidates are ordered score-descending, recency
// breaking ties.
type EvidenceSet struct {
	Candidates []EvidenceCandidate `json:"candidates"`
}

func (s EvidenceSet) Empty() bool {
	return len(s.Candidates) == 0
}

// SourceIDs returns the source identifiers present in the set, in rank order.
func (s EvidenceSet) SourceIDs() []string {
	ids := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		ids = append(ids, c.SourceID)
	}
	return ids
}

// HasSource reports whether the set contains a candidate for the identifier.
func (s EvidenceSet) HasSource(sourceID string) bool {
	for _, c := range s.Candidates {
		if c.SourceID == sourceID {
			return true
		}
	}
	return false
}

// MergeResults folds retrieval results from the original query and any rewrite
// variants into a single EvidenceSet. Duplicate source identifiers keep the
// higher-scoring candidate; equal scores keep the newer publication. The merge
// is commutative and idempotent, so rewrite ordering never changes the result.
// topN <= 0 disables truncation.
func MergeResults(results []RetrievalResult, topN int) EvidenceSet {
	bySource := make(map[string]EvidenceCandidate)
	for _, r := range results {
		for _, c := range r.Candidates {
			prev, seen := bySource[c.SourceID]
			if !seen || betterCandidate(c, prev) {
				bySource[c.SourceID] = c
			}
		}
	}

	merged := make([]EvidenceCandidate, 0, len(bySource))
	for _, c := range bySource {
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if !merged[i].PublishedAt.Equal(merged[j].PublishedAt) {
			return merged[i].PublishedAt.After(merged[j].PublishedAt)
		}
		return merged[i].SourceID < merged[j].SourceID
	})

	if topN > 0 && len(merged) > topN {
		merged = merged[:topN]
	}
	return EvidenceSet{Candidates: merged}
}

func betterCandidate(a, b EvidenceCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.PublishedAt.After(b.PublishedAt)
}

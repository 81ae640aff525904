// internal/models/digest.go
package models

// Fact is one discrete factual statement extracted from the evidence. Every
// surviving fact cites at least one source identifier from the EvidenceSet it
// was synthesized from.
type Fact struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// SynthesisDigest is the compact evidence summary handed to impact assessment
// and the composer.
type SynthesisDigest struct {
	Facts                []Fact `json:"facts"`
	InsufficientEvidence bool   `json:"insufficientEvidence"`
}

func (d SynthesisDigest) Empty() bool {
	return len(d.Facts) == 0
}

// SourceIDs returns the union of all cited identifiers, deduplicated, in first
// citation order.
func (d SynthesisDigest) SourceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range d.Facts {
		for _, s := range f.Sources {
			if !seen[s] {
				seen[s] = true
				ids = append(ids, s)
			}
		}
	}
	return ids
}

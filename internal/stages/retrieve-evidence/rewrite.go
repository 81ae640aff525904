// internal/stages/retrieve-evidence/rewrite.go
package retrieveevidence

import (
	"fmt"
	"strings"
)

// RewriteVariants produces the fixed sequence of alternate phrasings issued
// when the original query retrieves nothing usable: broadened crypto-news
// terms, then a market-impact rephrasing, then an entity-only query when the
// extractor found any. Deterministic and capped, so the worst-case number of
// searches per turn is bounded.
func RewriteVariants(queryText string, entityNames []string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	core := strings.TrimSpace(queryText)
	var variants []string

	if core != "" {
		variants = append(variants,
			fmt.Sprintf("%s recent cryptocurrency news, price, market, sentiment, latest developments", core),
			fmt.Sprintf("recent news and analysis about %s and market impact", core),
		)
	} else {
		variants = append(variants, "recent cryptocurrency news and market developments")
	}

	if len(entityNames) > 0 {
		variants = append(variants, fmt.Sprintf("%s cryptocurrency news", strings.Join(entityNames, " ")))
	}

	if len(variants) > limit {
		variants = variants[:limit]
	}
	return variants
}

// internal/stages/extract-intent/lexicon.go
package extractintent

import (
	"regexp"
	"strings"

	"github.com/navidpourhadi/Crypto-RAG/internal/models"
)

// tickerLexicon maps tickers of the majors to their common names. Used to
// enrich model extraction and as the degraded-mode extractor when the model
// call fails.
var tickerLexicon = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"SOL":   "Solana",
	"XRP":   "XRP",
	"ADA":   "Cardano",
	"DOGE":  "Dogecoin",
	"BNB":   "BNB",
	"DOT":   "Polkadot",
	"LINK":  "Chainlink",
	"AVAX":  "Avalanche",
	"MATIC": "Polygon",
	"LTC":   "Litecoin",
}

var marketKeywords = []string{
	"price", "market", "regulation", "regulatory", "news", "etf", "sec",
	"rally", "crash", "dump", "pump", "defi", "exchange", "adoption",
	"halving", "staking", "stablecoin", "token", "coin", "crypto",
	"blockchain", "bull", "bear", "sentiment", "trend",
}

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*`)

// ScanEntities finds cryptocurrency mentions by ticker or name. Deterministic;
// ticker matches score higher than name matches.
func ScanEntities(text string) []models.EntityMention {
	seen := make(map[string]bool)
	var mentions []models.EntityMention

	for _, word := range wordPattern.FindAllString(text, -1) {
		upper := strings.ToUpper(word)
		if name, ok := tickerLexicon[upper]; ok && len(word) >= 3 {
			if !seen[upper] {
				seen[upper] = true
				mentions = append(mentions, models.EntityMention{
					Name:       name,
					Ticker:     upper,
					Confidence: 0.95,
				})
			}
			continue
		}
		for ticker, name := range tickerLexicon {
			if strings.EqualFold(word, name) && !seen[ticker] {
				seen[ticker] = true
				mentions = append(mentions, models.EntityMention{
					Name:       name,
					Ticker:     ticker,
					Confidence: 0.9,
				})
			}
		}
	}

	return mentions
}

// HasMarketKeywords reports whether the text contains market-analysis
// vocabulary. Used by the routing decision for general queries.
func HasMarketKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range marketKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// NeedsEvidence decides whether the turn takes the retrieval path. General
// questions that mention no cryptocurrency and no market vocabulary are
// answered directly without searching the index.
func NeedsEvidence(intent models.ExtractedIntent, queryText string) bool {
	if intent.Category != models.IntentGeneral {
		return true
	}
	if len(intent.Entities) > 0 {
		return true
	}
	return HasMarketKeywords(queryText)
}

// internal/stages/retrieve-evidence/config.go
package retrieveevidence

import "time"

type Config struct {
	TopK        int
	TopN        int
	ScoreFloor  float64
	MinEvidence int
	MaxRewrites int
	Timeout     time.Duration
}

func LoadConfig() *Config {
	return &Config{
		TopK:        10,
		TopN:        8,
		ScoreFloor:  0.5,
		MinEvidence: 2,
		MaxRewrites: 3,
		Timeout:     30 * time.Second,
	}
}

// internal/stages/synthesize-digest/config.go
package synthesizedigest

import "time"

type Config struct {
	Timeout  time.Duration
	MaxFacts int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:  30 * time.Second,
		MaxFacts: 12,
	}
}

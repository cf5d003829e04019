// internal/workers/loan/process-application/config.go
package processapplication

import (
	"time"

	"loan-pipeline/internal/common/config"
)

type Config struct {
	EnrichmentTimeout  time.Duration
	PersistenceTimeout time.Duration
	RedeliveryDelay    time.Duration
	ShutdownTimeout    time.Duration
	ScoreCacheTTL      time.Duration
}

func LoadConfig() *Config {
	return &Config{
		EnrichmentTimeout:  2 * time.Second,
		PersistenceTimeout: 5 * time.Second,
		RedeliveryDelay:    time.Second,
		ShutdownTimeout:    30 * time.Second,
		ScoreCacheTTL:      time.Hour,
	}
}

// ConfigFrom converts the processor section of the application config.
func ConfigFrom(pc config.ProcessorConfig) *Config {
	return &Config{
		EnrichmentTimeout:  config.GetDuration(pc.EnrichmentTimeout),
		PersistenceTimeout: config.GetDuration(pc.PersistenceTimeout),
		RedeliveryDelay:    config.GetDuration(pc.RedeliveryDelay),
		ShutdownTimeout:    config.GetDuration(pc.ShutdownTimeout),
		ScoreCacheTTL:      time.Duration(pc.ScoreCacheTTL) * time.Second,
	}
}

// internal/intake/config.go
package intake

import (
	"time"

	"loan-pipeline/internal/common/config"
)

type Config struct {
	RateLimit      float64 // requests per second, 0 disables throttling
	Burst          int
	MaxBodyBytes   int64
	PublishTimeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Burst:          50,
		MaxBodyBytes:   1 << 20,
		PublishTimeout: 5 * time.Second,
	}
}

// ConfigFrom converts the intake section of the application config.
func ConfigFrom(ic config.IntakeConfig) *Config {
	cfg := LoadConfig()
	cfg.RateLimit = ic.RateLimit
	if ic.Burst > 0 {
		cfg.Burst = ic.Burst
	}
	if ic.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = ic.MaxBodyBytes
	}
	return cfg
}

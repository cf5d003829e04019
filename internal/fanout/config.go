// internal/fanout/config.go
package fanout

import (
	"time"

	"loan-pipeline/internal/common/config"
)

type Config struct {
	MetricsInterval     time.Duration
	ResubscribeDelay    time.Duration
	SubscriberQueueSize int
}

func LoadConfig() *Config {
	return &Config{
		MetricsInterval:     time.Second,
		ResubscribeDelay:    2 * time.Second,
		SubscriberQueueSize: 256,
	}
}

// ConfigFrom converts the fanout section of the application config.
func ConfigFrom(fc config.FanoutConfig) *Config {
	return &Config{
		MetricsInterval:     config.GetDuration(fc.MetricsInterval),
		ResubscribeDelay:    config.GetDuration(fc.ResubscribeDelay),
		SubscriberQueueSize: fc.SubscriberQueueSize,
	}
}

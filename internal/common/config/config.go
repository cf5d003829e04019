// internal/common/config/config.go
package config

import (
	"fmt"
	"strings"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
// GetDSN renders a key/value DSN. Values are quoted so an empty password or
// one containing spaces does not swallow the next key.
func (p PostgresConfig) GetDSN() string {
	quote := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quote(p.Host), p.Port, quote(p.User), quote(p.Password), quote(p.Database), quote(p.SSLMode),
	)
}

// ElasticsearchConfig is optional. An empty address list disables the search mirror.
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// QueueConfig describes the partitioned ingestion topic.
type QueueConfig struct {
	Topic         string `mapstructure:"topic"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	ConsumerName  string `mapstructure:"consumer_name"`
	Partitions    int    `mapstructure:"partitions"`
	BlockTimeout  int    `mapstructure:"block_timeout"` // milliseconds
	FromBeginning bool   `mapstructure:"from_beginning"`
}

// ProcessorConfig holds settings for the loan processing workers.
type ProcessorConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	EnrichmentTimeout  int  `mapstructure:"enrichment_timeout"`  // milliseconds
	PersistenceTimeout int  `mapstructure:"persistence_timeout"` // milliseconds
	RedeliveryDelay    int  `mapstructure:"redelivery_delay"`    // milliseconds
	ShutdownTimeout    int  `mapstructure:"shutdown_timeout"`    // milliseconds
	ScoreCacheTTL      int  `mapstructure:"score_cache_ttl"`     // seconds
}

// FanoutConfig holds settings for the live metrics/error push service.
type FanoutConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	MetricsInterval     int  `mapstructure:"metrics_interval"`  // milliseconds
	ResubscribeDelay    int  `mapstructure:"resubscribe_delay"` // milliseconds
	SubscriberQueueSize int  `mapstructure:"subscriber_queue_size"`
}

// IntakeConfig holds settings for the loan submission endpoint.
type IntakeConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	RateLimit    float64 `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst        int     `mapstructure:"burst"`
	MaxBodyBytes int64   `mapstructure:"max_body_bytes"`
}

// AlertsConfig holds optional outbound alerting for new error records.
type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	Address    string `mapstructure:"address"`     // public: intake + websocket
	OpsAddress string `mapstructure:"ops_address"` // health + metrics
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

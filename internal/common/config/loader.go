// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like DATABASE_REDIS_ADDRESS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	setFeatureDefaults(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	setFeatureDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so the
// connection settings that commonly arrive via env are bound explicitly.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.database",
		"database.postgres.user",
		"database.postgres.password",
		"database.redis.address",
		"database.redis.password",
		"database.redis.pool_size",
		"database.elasticsearch.enabled",
		"alerts.sns.topic_arn",
		"server.address",
		"server.ops_address",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

// Feature switches default to on; a plain bool cannot tell "unset" from false.
func setFeatureDefaults(v *viper.Viper) {
	v.SetDefault("processor.enabled", true)
	v.SetDefault("fanout.enabled", true)
	v.SetDefault("intake.enabled", true)
}

// loadEnvFile loads .env from the first location that has one.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "loan-pipeline"
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "processed-loans"
	}

	// Queue defaults
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = "loan.incoming"
	}
	if cfg.Queue.ConsumerGroup == "" {
		cfg.Queue.ConsumerGroup = "loan-processing-group"
	}
	if cfg.Queue.ConsumerName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Queue.ConsumerName = host
		} else {
			cfg.Queue.ConsumerName = "loan-processor"
		}
	}
	if cfg.Queue.Partitions == 0 {
		cfg.Queue.Partitions = 3
	}
	if cfg.Queue.BlockTimeout == 0 {
		cfg.Queue.BlockTimeout = 2000
	}
	// every partition holds one connection in a blocking read
	if cfg.Database.Redis.PoolSize == 0 {
		cfg.Database.Redis.PoolSize = cfg.Queue.Partitions + 16
	}

	// Processor defaults
	if cfg.Processor.EnrichmentTimeout == 0 {
		cfg.Processor.EnrichmentTimeout = 2000
	}
	if cfg.Processor.PersistenceTimeout == 0 {
		cfg.Processor.PersistenceTimeout = 5000
	}
	if cfg.Processor.RedeliveryDelay == 0 {
		cfg.Processor.RedeliveryDelay = 1000
	}
	if cfg.Processor.ShutdownTimeout == 0 {
		cfg.Processor.ShutdownTimeout = 30000
	}
	if cfg.Processor.ScoreCacheTTL == 0 {
		cfg.Processor.ScoreCacheTTL = 3600
	}

	// Fan-out defaults
	if cfg.Fanout.MetricsInterval == 0 {
		cfg.Fanout.MetricsInterval = 1000
	}
	if cfg.Fanout.ResubscribeDelay == 0 {
		cfg.Fanout.ResubscribeDelay = 2000
	}
	if cfg.Fanout.SubscriberQueueSize == 0 {
		cfg.Fanout.SubscriberQueueSize = 256
	}

	// Intake defaults
	if cfg.Intake.Burst == 0 {
		cfg.Intake.Burst = 50
	}
	if cfg.Intake.MaxBodyBytes == 0 {
		cfg.Intake.MaxBodyBytes = 1 << 20
	}

	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3001"
	}
	if cfg.Server.OpsAddress == "" {
		cfg.Server.OpsAddress = ":8080"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	if cfg.Queue.Partitions < 1 {
		return fmt.Errorf("queue.partitions must be at least 1")
	}

	if cfg.Fanout.SubscriberQueueSize < 1 {
		return fmt.Errorf("fanout.subscriber_queue_size must be at least 1")
	}

	if cfg.Alerts.SNS.Enabled && cfg.Alerts.SNS.TopicARN == "" {
		return fmt.Errorf("alerts.sns.topic_arn is required when sns alerts are enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

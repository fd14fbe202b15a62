package config

import (
	"fmt"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DomainsFile overrides the embedded domain catalog when set.
	DomainsFile string
	// DataDir is the root of downloaded datasets and the array store.
	DataDir string

	// Acquisition settings.
	RetryInterval  time.Duration
	LogInterval    time.Duration
	AcquireTimeout time.Duration
	HTTPTimeout    time.Duration
	AWSRegion      string

	// Series update notifications; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ""),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		DomainsFile:     sharedcfg.EnvOrDefault("DOMAINS_FILE", ""),
		DataDir:         sharedcfg.EnvOrDefault("DATA_DIR", "./data"),
		AWSRegion:       sharedcfg.EnvOrDefault("AWS_REGION", "eu-central-1"),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "forecast-series-updates"),
	}

	if brokers := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	durations := []struct {
		env string
		def string
		dst *time.Duration
	}{
		{"ACQUIRE_RETRY_INTERVAL", "10s", &cfg.RetryInterval},
		{"ACQUIRE_LOG_INTERVAL", "60s", &cfg.LogInterval},
		{"ACQUIRE_TIMEOUT", "3h", &cfg.AcquireTimeout},
		{"HTTP_TIMEOUT", "5m", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		v, err := parsePositiveDuration(d.env, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DATA_DIR must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// NotificationsEnabled reports whether series updates are published to Kafka.
func (c *Config) NotificationsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveDuration(env, def string) (time.Duration, error) {
	raw := sharedcfg.EnvOrDefault(env, def)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", env, raw)
	}
	return d, nil
}

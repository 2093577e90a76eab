package config

import (
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	CentreID       string               `mapstructure:"centre_id"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Replay         ReplayConfig         `mapstructure:"replay"`
	Features       FeaturesConfig       `mapstructure:"features"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type BrokerConfig struct {
	// Type is "mqtt" or "kafka"; inferred from the URL scheme when empty.
	Type            string        `mapstructure:"type"`
	URL             string        `mapstructure:"url"`
	ClientID        string        `mapstructure:"client_id"`
	QoS             int           `mapstructure:"qos"`
	SubscribeTopics []string      `mapstructure:"subscribe_topics"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	Kafka           KafkaConfig   `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string    `mapstructure:"brokers"`
	GroupID string      `mapstructure:"group_id"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type StorageConfig struct {
	URL            string        `mapstructure:"url"`
	IndexMode      string        `mapstructure:"index_mode"`
	RetentionHours int           `mapstructure:"retention_hours"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type CacheConfig struct {
	URL        string        `mapstructure:"url"`
	TTLSeconds int           `mapstructure:"ttl_seconds"`
	OnError    string        `mapstructure:"on_error"` // "fail" (default) or "allow"
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type ReplayConfig struct {
	FeatureAPIURL     string             `mapstructure:"feature_api_url"`
	PageSize          int                `mapstructure:"page_size"`
	PublicationPrefix string             `mapstructure:"publication_prefix"`
	RequestTimeout    time.Duration      `mapstructure:"request_timeout"`
	MaxRetries        int                `mapstructure:"max_retries"`
	MaxFinishedTasks  int                `mapstructure:"max_finished_tasks"`
	GlobalBrokers     []GlobalBrokerLink `mapstructure:"global_brokers"`
}

// GlobalBrokerLink is a broker from which subscribers can consume replayed records.
type GlobalBrokerLink struct {
	CentreID string `mapstructure:"centre_id"`
	Href     string `mapstructure:"href"`
	Title    string `mapstructure:"title"`
}

type FeaturesConfig struct {
	Collection   string `mapstructure:"collection"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

// KafkaBrokers returns the configured broker list, or the comma separated
// host list of a kafka:// URL.
func (c BrokerConfig) KafkaBrokers() []string {
	if len(c.Kafka.Brokers) > 0 {
		return c.Kafka.Brokers
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return nil
	}
	var brokers []string
	for _, h := range strings.Split(u.Host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			brokers = append(brokers, h)
		}
	}
	return brokers
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"greplay/internal/constants"
)

// LoadConfig reads configFile (optional) and overlays environment variables.
// An empty configFile loads from the environment alone.
func LoadConfig(configFile string) (*Config, error) {
	cfg, err := load(configFile)
	if err != nil {
		return nil, err
	}
	if err := ValidateStatic(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadStorageConfig is LoadConfig for tools that only touch the storage
// backend: only the storage section has to be valid.
func LoadStorageConfig(configFile string) (*Config, error) {
	cfg, err := load(configFile)
	if err != nil {
		return nil, err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	// qos 0 is a valid setting, so its default is applied by viper only when unset.
	viper.SetDefault("broker.qos", 1)

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("centre_id", "CENTRE_ID")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.url", "BROKER_URL")
	viper.BindEnv("broker.client_id", "BROKER_CLIENT_ID")
	viper.BindEnv("broker.qos", "BROKER_QOS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")

	viper.BindEnv("storage.url", "STORAGE_URL")
	viper.BindEnv("storage.index_mode", "STORAGE_INDEX_MODE")
	viper.BindEnv("storage.retention_hours", "STORAGE_RETENTION_HOURS")
	viper.BindEnv("storage.timeout", "STORAGE_TIMEOUT")
	viper.BindEnv("storage.max_retries", "STORAGE_MAX_RETRIES")

	viper.BindEnv("cache.url", "CACHE_URL")
	viper.BindEnv("cache.ttl_seconds", "CACHE_TTL_SECONDS")
	viper.BindEnv("cache.on_error", "CACHE_ON_ERROR")

	viper.BindEnv("replay.feature_api_url", "REPLAY_FEATURE_API_URL")
	viper.BindEnv("replay.page_size", "REPLAY_PAGE_SIZE")
	viper.BindEnv("replay.publication_prefix", "REPLAY_PUBLICATION_PREFIX")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv, ","); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if topicsEnv := viper.GetString("BROKER_SUBSCRIBE_TOPICS"); topicsEnv != "" {
		if topics := splitList(topicsEnv, ","); len(topics) > 0 {
			cfg.Broker.SubscribeTopics = topics
		}
	}

	if linksEnv := viper.GetString("GLOBAL_BROKER_LINKS"); linksEnv != "" {
		links, err := ParseGlobalBrokerLinks(linksEnv)
		if err != nil {
			return err
		}
		cfg.Replay.GlobalBrokers = links
	}

	return nil
}

// ParseGlobalBrokerLinks parses "centre,href,title;centre,href,title".
// Titles may themselves contain commas.
func ParseGlobalBrokerLinks(value string) ([]GlobalBrokerLink, error) {
	var links []GlobalBrokerLink
	for i, entry := range splitList(value, ";") {
		parts := strings.SplitN(entry, ",", 3)
		if len(parts) != 3 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("replay.global_brokers[%d]", i),
				Message: fmt.Sprintf("expected centre_id,href,title, got %q", entry),
			}
		}
		links = append(links, GlobalBrokerLink{
			CentreID: strings.TrimSpace(parts[0]),
			Href:     strings.TrimSpace(parts[1]),
			Title:    strings.TrimSpace(parts[2]),
		})
	}
	return links, nil
}

func splitList(value, sep string) []string {
	var out []string
	for _, item := range strings.Split(value, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Broker.Type == "" {
		cfg.Broker.Type = brokerTypeFromURL(cfg.Broker.URL)
	}
	if len(cfg.Broker.SubscribeTopics) == 0 {
		cfg.Broker.SubscribeTopics = []string{constants.DefaultSubscribeTopic}
	}
	if cfg.Broker.PublishTimeout == 0 {
		cfg.Broker.PublishTimeout = 10 * time.Second
	}
	if cfg.Broker.Kafka.GroupID == "" {
		cfg.Broker.Kafka.GroupID = constants.ServiceIngest
	}
	if cfg.Broker.Kafka.Retry.Multiplier == 0 {
		cfg.Broker.Kafka.Retry.Multiplier = 2.0
	}

	if cfg.Storage.IndexMode == "" {
		cfg.Storage.IndexMode = defaultIndexMode(cfg.Storage.URL)
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = constants.DefaultStoreTimeout
	}
	if cfg.Storage.MaxRetries == 0 {
		cfg.Storage.MaxRetries = constants.DefaultMaxRetries
	}

	cfg.Cache.OnError = strings.ToLower(strings.TrimSpace(cfg.Cache.OnError))
	if cfg.Cache.OnError == "" {
		cfg.Cache.OnError = constants.FallbackFail
	}
	if cfg.Cache.Timeout == 0 {
		cfg.Cache.Timeout = 5 * time.Second
	}

	if cfg.Replay.PageSize == 0 {
		cfg.Replay.PageSize = constants.DefaultReplayPageSize
	}
	if cfg.Replay.PublicationPrefix == "" {
		cfg.Replay.PublicationPrefix = constants.DefaultPublicationPrefix
	}
	if cfg.Replay.RequestTimeout == 0 {
		cfg.Replay.RequestTimeout = constants.DefaultHTTPTimeout
	}
	if cfg.Replay.MaxRetries == 0 {
		cfg.Replay.MaxRetries = constants.DefaultMaxRetries
	}
	if cfg.Replay.MaxFinishedTasks == 0 {
		cfg.Replay.MaxFinishedTasks = constants.FinishedTaskHistory
	}

	if cfg.Features.Collection == "" {
		cfg.Features.Collection = constants.DefaultCollection
	}
	if cfg.Features.DefaultLimit == 0 {
		cfg.Features.DefaultLimit = constants.DefaultFeatureLimit
	}
	if cfg.Features.MaxLimit == 0 {
		cfg.Features.MaxLimit = constants.MaxFeatureLimit
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// defaultIndexMode is fixed for relational stores, which have no bucket expiry.
func defaultIndexMode(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return constants.IndexModeFixed
		}
	}
	return constants.IndexModeRolling
}

func brokerTypeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "mqtts", "tcp", "ssl", "tls", "ws", "wss":
		return constants.BrokerTypeMQTT
	case "kafka":
		return constants.BrokerTypeKafka
	}
	return ""
}

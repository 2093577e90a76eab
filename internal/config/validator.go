package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"greplay/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks required options and value ranges. Every failure is
// reported; the result unwraps to the individual *ValidationError values.
func ValidateStatic(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.CentreID) == "" {
		errs = append(errs, &ValidationError{
			Field:   "centre_id",
			Message: "centre id is required",
		})
	}

	errs = appendIfErr(errs, validateServer(cfg.Server))
	errs = appendIfErr(errs, validateBroker(cfg.Broker))
	errs = appendIfErr(errs, validateStorage(cfg.Storage))
	errs = appendIfErr(errs, validateCache(cfg.Cache))
	errs = appendIfErr(errs, validateReplay(cfg.Replay))
	errs = appendIfErr(errs, validateFeatures(cfg.Features))

	return errors.Join(errs...)
}

func appendIfErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "broker.url",
			Message: "broker URL is required",
		}
	}

	if _, err := url.Parse(cfg.URL); err != nil {
		return &ValidationError{
			Field:   "broker.url",
			Message: fmt.Sprintf("invalid broker URL: %v", err),
		}
	}

	switch cfg.Type {
	case constants.BrokerTypeMQTT:
		if cfg.QoS < 0 || cfg.QoS > 2 {
			return &ValidationError{
				Field:   "broker.qos",
				Message: fmt.Sprintf("qos must be 0, 1 or 2, got %d", cfg.QoS),
			}
		}
	case constants.BrokerTypeKafka:
		return validateKafka(cfg)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %q (supported: mqtt, kafka)", cfg.Type),
		}
	}

	return nil
}

func validateKafka(cfg BrokerConfig) error {
	brokers := cfg.KafkaBrokers()
	if len(brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	if cfg.Kafka.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Kafka.Retry.MaxInterval > 0 && cfg.Kafka.Retry.InitialInterval > 0 && cfg.Kafka.Retry.MaxInterval < cfg.Kafka.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Kafka.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateStorage(cfg StorageConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "storage.url",
			Message: "storage URL is required",
		}
	}

	if cfg.RetentionHours <= 0 {
		return &ValidationError{
			Field:   "storage.retention_hours",
			Message: "message retention hours must be positive",
		}
	}

	switch cfg.IndexMode {
	case constants.IndexModeRolling, constants.IndexModeFixed:
	default:
		return &ValidationError{
			Field:   "storage.index_mode",
			Message: fmt.Sprintf("invalid index mode: %q (valid: rolling, fixed)", cfg.IndexMode),
		}
	}

	if cfg.MaxRetries < 0 {
		return &ValidationError{
			Field:   "storage.max_retries",
			Message: "max_retries must be non-negative",
		}
	}

	return nil
}

func validateCache(cfg CacheConfig) error {
	if cfg.URL == "" {
		return &ValidationError{
			Field:   "cache.url",
			Message: "cache URL is required",
		}
	}

	if !strings.HasPrefix(cfg.URL, "redis://") && !strings.HasPrefix(cfg.URL, "rediss://") {
		return &ValidationError{
			Field:   "cache.url",
			Message: "cache URL must start with redis:// or rediss://",
		}
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: "dedup TTL seconds must be positive",
		}
	}

	switch strings.ToLower(cfg.OnError) {
	case constants.FallbackFail, constants.FallbackAllow:
	default:
		return &ValidationError{
			Field:   "cache.on_error",
			Message: fmt.Sprintf("invalid on_error value: %s (valid: fail, allow)", cfg.OnError),
		}
	}

	return nil
}

func validateReplay(cfg ReplayConfig) error {
	if cfg.FeatureAPIURL == "" {
		return &ValidationError{
			Field:   "replay.feature_api_url",
			Message: "feature API URL is required",
		}
	}

	if u, err := url.Parse(cfg.FeatureAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{
			Field:   "replay.feature_api_url",
			Message: "feature API URL must be absolute",
		}
	}

	if len(cfg.GlobalBrokers) == 0 {
		return &ValidationError{
			Field:   "replay.global_brokers",
			Message: "at least one global broker link is required",
		}
	}

	for i, link := range cfg.GlobalBrokers {
		if link.CentreID == "" || link.Href == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("replay.global_brokers[%d]", i),
				Message: "centre_id and href are required",
			}
		}
	}

	if cfg.PageSize < 1 {
		return &ValidationError{
			Field:   "replay.page_size",
			Message: "page size must be positive",
		}
	}

	return nil
}

func validateFeatures(cfg FeaturesConfig) error {
	if cfg.DefaultLimit < 1 || cfg.DefaultLimit > cfg.MaxLimit {
		return &ValidationError{
			Field:   "features.default_limit",
			Message: fmt.Sprintf("default limit must be between 1 and %d", cfg.MaxLimit),
		}
	}
	return nil
}

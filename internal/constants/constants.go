package constants

import "time"

const (
	ServiceIngest = "ingest-service"
	ServiceAPI    = "api-service"
	ServiceCLI    = "replayctl"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	MQTTConnectTimeout  = 10 * time.Second
	MQTTDisconnectQuiet = 250 // milliseconds
	MQTTReplayClientID  = "greplay-api-client"
	MQTTIngestClientID  = "greplay-ingest-client"
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	ShutdownTimeout     = 5 * time.Second
	TaskDrainTimeout    = 30 * time.Second
	HealthCheckTimeout  = 5 * time.Second
	CacheMetricsPeriod  = 30 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultStoreTimeout = 30 * time.Second
)

const (
	DefaultMaxRetries        = 10
	DefaultReplayPageSize    = 100000
	DefaultPublicationPrefix = "replay/a/wis2"
	DefaultSubscribeTopic    = "cache/a/wis2/#"
	DefaultCollection        = "wis2-notification-messages"
	DefaultFeatureLimit      = 10
	MaxFeatureLimit          = 100000
	FinishedTaskHistory      = 1000
)

const (
	FallbackAllow = "allow"
	FallbackFail  = "fail"
)

const (
	BrokerTypeMQTT  = "mqtt"
	BrokerTypeKafka = "kafka"
)

const (
	IndexModeRolling = "rolling"
	IndexModeFixed   = "fixed"
)

const (
	ContentTypeGeoJSON = "application/geo+json"
	LinkRelItems       = "items"
	LinkRelNext        = "next"
	LinkRelSelf        = "self"
)

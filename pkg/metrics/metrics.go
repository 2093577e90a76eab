package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of feed deliveries handled by the ingestion gate (count)",
		},
		[]string{"status"},
	)

	IngestProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_ms",
			Help:    "Processing duration for a single feed delivery in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	LoadedFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "load_files_total",
			Help: "Total number of files processed by batch load (count)",
		},
		[]string{"status"},
	)

	DedupAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_admissions_total",
			Help: "Total number of dedup cache admission checks (count)",
		},
		[]string{"result"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_check_duration_ms",
			Help:    "Duration of dedup cache admission checks in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"result"},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Approximate size of deduplication cache (count)",
		},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)

	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage backend operations (count)",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_ms",
			Help:    "Duration of storage backend operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"backend", "operation"},
	)

	StorageRecordsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_records_deleted_total",
			Help: "Total number of records removed by retention sweeps (count)",
		},
		[]string{"backend"},
	)

	ReplayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_requests_total",
			Help: "Total number of replay subscription requests (count)",
		},
		[]string{"status"},
	)

	ReplayTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_tasks_total",
			Help: "Total number of finished replay tasks (count)",
		},
		[]string{"status"},
	)

	ReplayTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_tasks_active",
			Help: "Number of replay tasks currently running (count)",
		},
	)

	ReplayPagesFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_pages_fetched_total",
			Help: "Total number of feature query pages fetched by replay tasks (count)",
		},
	)

	ReplayFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replay_fetch_duration_ms",
			Help:    "Duration of feature query page fetches in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	ReplayRecordsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_records_published_total",
			Help: "Total number of records republished by replay tasks (count)",
		},
		[]string{"status"},
	)

	FeatureQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_queries_total",
			Help: "Total number of historical feature queries served (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component", "operation"},
	)

	BrokerMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_received_total",
			Help: "Total number of messages received from the broker (count)",
		},
		[]string{"transport"},
	)

	BrokerMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published to the broker (count)",
		},
		[]string{"transport", "status"},
	)

	BrokerMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_size_bytes",
			Help:    "Size of broker messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"transport", "direction"},
	)

	BrokerPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Duration of broker publishes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"transport"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var (
	registerCommonOnce sync.Once
	registerStoreOnce  sync.Once
)

func registerCommon() {
	registerCommonOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
		prometheus.MustRegister(BrokerMessagesReceivedTotal)
		prometheus.MustRegister(BrokerMessagesPublishedTotal)
		prometheus.MustRegister(BrokerMessageSizeBytes)
		prometheus.MustRegister(BrokerPublishDuration)
	})
}

func registerStorage() {
	registerStoreOnce.Do(func() {
		prometheus.MustRegister(StorageOperationsTotal)
		prometheus.MustRegister(StorageOperationDuration)
		prometheus.MustRegister(StorageRecordsDeletedTotal)
	})
}

func RegisterIngestMetrics() {
	registerCommon()
	registerStorage()
	prometheus.MustRegister(IngestMessagesTotal)
	prometheus.MustRegister(IngestProcessingDuration)
	prometheus.MustRegister(DedupAdmissionsTotal)
	prometheus.MustRegister(DedupCheckDuration)
	prometheus.MustRegister(DedupCacheSize)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterAPIMetrics() {
	registerCommon()
	registerStorage()
	prometheus.MustRegister(ReplayRequestsTotal)
	prometheus.MustRegister(ReplayTasksTotal)
	prometheus.MustRegister(ReplayTasksActive)
	prometheus.MustRegister(ReplayPagesFetchedTotal)
	prometheus.MustRegister(ReplayFetchDuration)
	prometheus.MustRegister(ReplayRecordsPublishedTotal)
	prometheus.MustRegister(FeatureQueriesTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveIngestDuration(duration time.Duration, status string) {
	IngestProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveDedupDuration(duration time.Duration, result string) {
	DedupCheckDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func SetDedupCacheSize(size int) {
	DedupCacheSize.Set(float64(size))
}

func ObserveStorageOperation(backend, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	StorageOperationDuration.WithLabelValues(backend, operation).Observe(float64(duration.Milliseconds()))
}

func ObserveReplayFetch(duration time.Duration) {
	ReplayPagesFetchedTotal.Inc()
	ReplayFetchDuration.Observe(float64(duration.Milliseconds()))
}

func ObserveBrokerPublish(transport string, sizeBytes int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	BrokerMessagesPublishedTotal.WithLabelValues(transport, status).Inc()
	BrokerMessageSizeBytes.WithLabelValues(transport, "out").Observe(float64(sizeBytes))
	BrokerPublishDuration.WithLabelValues(transport).Observe(float64(duration.Milliseconds()))
}

func ObserveBrokerReceive(transport string, sizeBytes int) {
	BrokerMessagesReceivedTotal.WithLabelValues(transport).Inc()
	BrokerMessageSizeBytes.WithLabelValues(transport, "in").Observe(float64(sizeBytes))
}

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/dedup"
	"greplay/internal/ingest"
	"greplay/internal/logger"
	"greplay/internal/storage"
	"greplay/pkg/bootstrap"
	"greplay/pkg/health"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	connector      *bootstrap.Connector
	redis          *redis.Client
	store          storage.Store
	cache          *dedup.Cache
	gate           *ingest.Gate
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	log = logger.ForService(log, constants.ServiceIngest)
	return &App{
		Base:      bootstrap.NewBase(cfg, log),
		connector: bootstrap.NewConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceIngest)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()

	rdb, err := a.connector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	store, err := a.connector.InitBackend(ctx)
	if err != nil {
		return err
	}
	a.store = store

	exists, err := store.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect storage backend: %w", err)
	}
	if !exists {
		a.Logger.Warnw("Storage backend has not been set up; run replayctl setup", "backend", store.Name())
	}

	repo := dedup.NewCircuitBreakerRepository(dedup.NewRepository(a.redis), a.Config.CircuitBreaker)
	if a.Config.CircuitBreaker.Enabled {
		initCtx := logging.WithServiceName(ctx, constants.ServiceIngest)
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for dedup repository")
	}
	a.cache = dedup.NewCache(repo, a.Config.Cache, a.Logger)
	a.gate = ingest.NewGate(a.cache, a.store, a.Logger)

	if err := a.InitSubscriber(constants.ServiceIngest, constants.MQTTIngestClientID); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(a.store.HealthChecker())
	if state, ok := a.Subscriber.(health.ConnectionState); ok {
		healthRegistry.Register(health.NewBrokerChecker("broker", state))
	}

	mux.Handle("/health", healthRegistry)
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.cache.RunSizeMetrics(gCtx, constants.CacheMetricsPeriod)
		return nil
	})

	topics := a.Config.Broker.SubscribeTopics
	g.Go(func() error {
		return a.Subscriber.Subscribe(gCtx, topics, a.gate.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceIngest)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		// the subscriber must stop delivering before the stores close
		if a.Subscriber != nil {
			if err := a.Subscriber.Close(); err != nil {
				errs = append(errs, fmt.Errorf("subscriber close error: %w", err))
			}
			a.Subscriber = nil
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.connector.Shutdown(ctx, a.redis, a.store)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

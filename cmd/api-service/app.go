package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/features"
	"greplay/internal/logger"
	"greplay/internal/replay"
	"greplay/internal/storage"
	"greplay/pkg/bootstrap"
	"greplay/pkg/health"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/middleware"
	"greplay/pkg/ratelimit"
	"greplay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	connector      *bootstrap.Connector
	store          storage.Store
	registry       *replay.Registry
	limiter        *ratelimit.IPLimiter
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	log = logger.ForService(log, constants.ServiceAPI)
	return &App{
		Base:      bootstrap.NewBase(cfg, log),
		connector: bootstrap.NewConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceAPI)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAPIMetrics()

	store, err := a.connector.InitBackend(ctx)
	if err != nil {
		return err
	}
	a.store = store

	if err := a.InitPublisher(constants.MQTTReplayClientID); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.registry = replay.NewRegistry(a.Config.Replay.MaxFinishedTasks, a.Logger)
	a.initRouter()

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceAPI))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromSettings(a.Config.RateLimit)
		a.limiter = ratelimit.NewIPLimiter(rateLimitConfig)
		router.Use(a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	client := replay.NewFeatureClient(a.Config.Replay, a.Logger)
	executor := replay.NewExecutor(a.Config.CentreID, a.Config.Replay, client, a.Publisher, a.registry, a.Logger)
	replay.NewHandler(executor, a.registry, a.Logger).RegisterRoutes(router)

	features.NewHandler(a.store, a.Config.Features, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(a.store.HealthChecker())
	if state, ok := a.Publisher.(health.ConnectionState); ok {
		healthRegistry.Register(health.NewBrokerChecker("broker", state))
	}
	router.GET("/health", healthRegistry.GinHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceAPI)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down API service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		// replays still publishing need the broker, so drain before it closes
		if a.registry != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), constants.TaskDrainTimeout)
			if err := a.registry.Drain(drainCtx); err != nil {
				errs = append(errs, fmt.Errorf("replay drain error: %w", err))
			}
			cancel()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.connector.Shutdown(ctx, nil, a.store)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

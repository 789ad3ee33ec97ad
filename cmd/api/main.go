package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/clinic-automation/cmd/mainconfig"
	"github.com/wolfman30/clinic-automation/internal/api/router"
	"github.com/wolfman30/clinic-automation/internal/app/bootstrap"
	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/internal/deliverylog"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/scheduling"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic automation API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	} else {
		logger.Warn("running with in-memory stores; data is lost on restart")
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	stores := bootstrap.BuildStores(pool)
	resolver := bootstrap.BuildTargetResolver(cfg, pool, redisClient, logger)
	metricsHandler, automationMetrics := mainconfig.SetupMetrics()

	scheduler := automation.NewScheduler(stores.Automation, resolver, logger).
		WithWriteRetry(cfg.ScheduleWriteAttempts, 100*time.Millisecond)
	processor := automation.NewEventProcessor(
		automation.NewRuleMatcher(stores.Automation), scheduler, stores.Automation, automationMetrics, logger,
	)

	var followUps scheduling.FollowUps = processor
	var attempts deliverylog.AttemptLister
	if mainconfig.NeedsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.EventQueueURL != "" {
			followUps = events.NewPublisher(events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL), logger)
			logger.Info("appointment follow-ups published to queue", "queue_url", cfg.EventQueueURL)
		}
		if cfg.DeliveryLogTable != "" {
			attempts = deliverylog.NewRecorder(dynamodb.NewFromConfig(awsCfg), cfg.DeliveryLogTable, cfg.DeliveryLogTTL, logger)
		}
	}

	appointments := scheduling.NewService(stores.Scheduling, followUps, logger)

	readiness := map[string]router.ReadinessCheck{}
	if pool != nil {
		readiness["postgres"] = pool.Ping
	}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := router.New(&router.Config{
		Logger:              logger,
		AutomationHandler:   automation.NewHandler(automation.NewRuleService(stores.Automation, logger), processor, automationMetrics, logger),
		SchedulingHandler:   scheduling.NewHandler(appointments, logger),
		AttemptLister:       attempts,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		ReadinessChecks:     readiness,
		EventsRatePerSecond: cfg.EventsRateLimitRPS,
		EventsBurst:         cfg.EventsRateLimitBurst,
	})
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; automation admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

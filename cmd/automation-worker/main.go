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
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/clinic-automation/cmd/mainconfig"
	"github.com/wolfman30/clinic-automation/internal/app/bootstrap"
	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/internal/deliverylog"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel).With("worker_id", cfg.DispatchWorkerID)
	logger.Info("starting automation worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	stores := bootstrap.BuildStores(pool)
	resolver := bootstrap.BuildTargetResolver(cfg, pool, redisClient, logger)
	metricsHandler, automationMetrics := mainconfig.SetupMetrics()

	var (
		ses      notify.SESAPI
		auditor  automation.DeliveryAuditor
		consumer *events.Consumer
	)
	if mainconfig.NeedsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.SESFromEmail != "" {
			ses = sesv2.NewFromConfig(awsCfg)
		}
		if cfg.DeliveryLogTable != "" {
			auditor = deliverylog.NewRecorder(dynamodb.NewFromConfig(awsCfg), cfg.DeliveryLogTable, cfg.DeliveryLogTTL, logger)
		}
		if cfg.EventQueueURL != "" {
			scheduler := automation.NewScheduler(stores.Automation, resolver, logger).
				WithWriteRetry(cfg.ScheduleWriteAttempts, 100*time.Millisecond)
			processor := automation.NewEventProcessor(
				automation.NewRuleMatcher(stores.Automation), scheduler, stores.Automation, automationMetrics, logger,
			)
			queue := events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)
			consumer = events.NewConsumer(queue, processor, stores.Processed, logger).
				WithWorkers(cfg.EventWorkerCount).
				WithMetrics(automationMetrics)
		}
	}

	dispatcher := automation.NewDispatcher(stores.Automation, resolver, bootstrap.BuildMessageSender(cfg, ses, logger), logger).
		WithInterval(cfg.DispatchInterval).
		WithBatchSize(cfg.DispatchBatchSize).
		WithReclaimAfter(cfg.DispatchReclaimAfter).
		WithSendTimeout(cfg.DispatchSendTimeout).
		WithWorkerID(cfg.DispatchWorkerID).
		WithMetrics(automationMetrics)
	if auditor != nil {
		dispatcher = dispatcher.WithAuditor(auditor)
	}

	var group errgroup.Group
	group.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})
	if consumer != nil {
		group.Go(func() error {
			consumer.Run(ctx)
			return nil
		})
		logger.Info("event consumer started", "queue_url", cfg.EventQueueURL, "workers", cfg.EventWorkerCount)
	}

	mux := chi.NewRouter()
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", metricsHandler)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("automation worker shutting down")
	cancel()

	drained := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Duration(cfg.DispatchBatchSize+1) * cfg.DispatchSendTimeout):
		logger.Warn("shutdown timed out; stale claims will be reclaimed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("automation worker stopped")
}

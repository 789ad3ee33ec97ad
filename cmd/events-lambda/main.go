package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-automation/cmd/mainconfig"
	"github.com/wolfman30/clinic-automation/internal/app/bootstrap"
	"github.com/wolfman30/clinic-automation/internal/automation"
	eventqueue "github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type messageProcessor interface {
	Process(ctx context.Context, msg eventqueue.Message) bool
}

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	stores := bootstrap.BuildStores(pool)
	resolver := bootstrap.BuildTargetResolver(cfg, pool, redisClient, logger)
	scheduler := automation.NewScheduler(stores.Automation, resolver, logger).
		WithWriteRetry(cfg.ScheduleWriteAttempts, 100*time.Millisecond)
	processor := automation.NewEventProcessor(
		automation.NewRuleMatcher(stores.Automation), scheduler, stores.Automation, nil, logger,
	)
	consumer := eventqueue.NewConsumer(nil, processor, stores.Processed, logger)

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, consumer, evt), nil
	})
}

// handle reports messages that need redelivery as partial batch failures.
func handle(ctx context.Context, processor messageProcessor, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		msg := eventqueue.Message{ID: record.MessageId, Body: record.Body, ReceiptHandle: record.ReceiptHandle}
		if !processor.Process(ctx, msg) {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp
}

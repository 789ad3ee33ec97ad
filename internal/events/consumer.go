package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/internal/observability/metrics"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// EventHandler processes one automation event.
type EventHandler interface {
	Handle(ctx context.Context, evt automation.Event) automation.Report
}

// ProcessedTracker remembers handled event ids.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Consumer drains the queue into the event processor.
type Consumer struct {
	queue       Queue
	handler     EventHandler
	processed   ProcessedTracker
	metrics     *metrics.AutomationMetrics
	logger      *logging.Logger
	workers     int
	batchSize   int
	waitSeconds int
	backoff     time.Duration
}

// NewConsumer creates a consumer. processed may be nil. queue may be nil when
// messages are pushed through Process instead of polled by Run.
func NewConsumer(queue Queue, handler EventHandler, processed ProcessedTracker, logger *logging.Logger) *Consumer {
	if handler == nil {
		panic("events: handler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       queue,
		handler:     handler,
		processed:   processed,
		logger:      logger,
		workers:     2,
		batchSize:   10,
		waitSeconds: 20,
		backoff:     time.Second,
	}
}

// WithWorkers sets how many receive loops run in parallel.
func (c *Consumer) WithWorkers(n int) *Consumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

// WithReceive tunes batch size and long-poll wait.
func (c *Consumer) WithReceive(batchSize, waitSeconds int) *Consumer {
	if batchSize > 0 {
		c.batchSize = batchSize
	}
	if waitSeconds >= 0 {
		c.waitSeconds = waitSeconds
	}
	return c
}

// WithMetrics attaches counters.
func (c *Consumer) WithMetrics(m *metrics.AutomationMetrics) *Consumer {
	c.metrics = m
	return c
}

// Run blocks until ctx is cancelled and every worker has returned.
func (c *Consumer) Run(ctx context.Context) {
	if c.queue == nil {
		c.logger.Error("events: consumer has no queue to poll")
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx)
		}()
	}
	wg.Wait()
}

func (c *Consumer) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("events: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		for _, msg := range msgs {
			c.HandleMessage(context.WithoutCancel(ctx), msg)
		}
	}
}

// HandleMessage processes one message and deletes it unless a transient
// failure means it should be redelivered.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) {
	if c.Process(ctx, msg) {
		c.delete(ctx, msg)
	}
}

// Process handles one message body. It returns false only when the message
// should be redelivered. Undecodable and invalid messages are done.
func (c *Consumer) Process(ctx context.Context, msg Message) bool {
	var evt automation.Event
	if err := json.Unmarshal([]byte(msg.Body), &evt); err != nil {
		c.logger.Error("events: dropping undecodable message", "message_id", msg.ID, "error", err)
		c.metrics.ObserveEvent("queue", "rejected")
		return true
	}
	if evt.ID == "" {
		evt.ID = msg.ID
	}
	log := c.logger.WithOrg(evt.OrgID).With("event_id", evt.ID, "trigger", evt.Trigger)

	if err := evt.Validate(); err != nil {
		log.Error("events: dropping invalid event", "error", err)
		c.metrics.ObserveEvent("queue", "rejected")
		return true
	}

	// Event ids are client supplied, so the dedupe key is tenant scoped.
	processedID := evt.OrgID + ":" + evt.ID
	if c.processed != nil {
		seen, err := c.processed.AlreadyProcessed(ctx, ProviderAutomation, processedID)
		if err != nil {
			log.Warn("events: processed check failed; leaving message for redelivery", "error", err)
			return false
		}
		if seen {
			log.Info("events: duplicate event skipped")
			c.metrics.ObserveEvent("queue", "duplicate")
			return true
		}
	}

	report := c.handler.Handle(ctx, evt)
	if !report.OK() {
		log.Warn("events: event handled with errors", "errors", report.ErrorMessages())
	}

	if c.processed != nil {
		if _, err := c.processed.MarkProcessed(ctx, ProviderAutomation, processedID); err != nil {
			log.Warn("events: mark processed failed", "error", err)
		}
	}
	c.metrics.ObserveEvent("queue", "accepted")
	return true
}

func (c *Consumer) delete(ctx context.Context, msg Message) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Warn("events: delete failed", "message_id", msg.ID, "error", err)
	}
}

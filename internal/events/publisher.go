package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Publisher enqueues automation events for the worker to process.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a publisher over queue.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Publish assigns an ID when missing and sends the event.
func (p *Publisher) Publish(ctx context.Context, evt automation.Event) (string, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if err := evt.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("events: encode event: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return "", err
	}
	p.logger.Debug("automation event published", "org_id", evt.OrgID, "event_id", evt.ID, "trigger", evt.Trigger)
	return evt.ID, nil
}

// Handle lets the publisher stand in for the in-process processor. The
// report only says whether the event was enqueued.
func (p *Publisher) Handle(ctx context.Context, evt automation.Event) automation.Report {
	report := automation.Report{EventID: evt.ID, Trigger: evt.Trigger}
	id, err := p.Publish(ctx, evt)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}
	report.EventID = id
	return report
}

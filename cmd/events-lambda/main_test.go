package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/automation"
	eventqueue "github.com/wolfman30/clinic-automation/internal/events"
)

type countingHandler struct {
	events []automation.Event
}

func (h *countingHandler) Handle(_ context.Context, evt automation.Event) automation.Report {
	h.events = append(h.events, evt)
	return automation.Report{EventID: evt.ID, Trigger: evt.Trigger}
}

type flakyTracker struct{}

func (flakyTracker) AlreadyProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("db unavailable")
}

func (flakyTracker) MarkProcessed(context.Context, string, string) (bool, error) {
	return false, nil
}

func eventBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(automation.Event{
		ID:         "evt-1",
		OrgID:      "org-1",
		Trigger:    automation.TriggerLeadCreated,
		TargetKind: automation.TargetLead,
		TargetID:   "lead-1",
		OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return string(body)
}

func TestHandleProcessesRecords(t *testing.T) {
	handler := &countingHandler{}
	consumer := eventqueue.NewConsumer(nil, handler, nil, nil)

	resp := handle(context.Background(), consumer, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: eventBody(t)},
		{MessageId: "m-2", Body: "not json"},
	}})

	assert.Empty(t, resp.BatchItemFailures, "poison messages are not retried")
	require.Len(t, handler.events, 1)
	assert.Equal(t, "evt-1", handler.events[0].ID)
}

func TestHandleReportsTransientFailures(t *testing.T) {
	handler := &countingHandler{}
	consumer := eventqueue.NewConsumer(nil, handler, flakyTracker{}, nil)

	resp := handle(context.Background(), consumer, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: eventBody(t)},
	}})

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m-1", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Empty(t, handler.events)
}

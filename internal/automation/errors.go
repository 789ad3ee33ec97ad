package automation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrRuleNotFound indicates the rule does not exist for the tenant.
	ErrRuleNotFound = errors.New("automation: rule not found")
	// ErrTargetNotFound indicates the lead or patient cannot be resolved.
	ErrTargetNotFound = errors.New("automation: target not found")
	// ErrNoContact indicates the target has no phone or email on file.
	ErrNoContact = errors.New("automation: target has no contact address")
	// ErrInvalidRule indicates operator input failed validation.
	ErrInvalidRule = errors.New("automation: invalid rule")
	// ErrInvalidEvent indicates a malformed domain event.
	ErrInvalidEvent = errors.New("automation: invalid event")
	// ErrMissingReference indicates the event lacks the instant a rule counts from.
	ErrMissingReference = errors.New("automation: missing reference instant")
	// ErrRuleHasExecutions blocks hard deletion of rules with history.
	ErrRuleHasExecutions = errors.New("automation: rule has executions")
	// ErrExecutionNotFound indicates no execution matched.
	ErrExecutionNotFound = errors.New("automation: execution not found")
	// ErrClaimLost indicates the execution is no longer held by this claim.
	ErrClaimLost = errors.New("automation: execution claim lost")
)

// SchedulingError reports a durable write failure for a pending execution.
// It is never fatal to the event that caused it.
type SchedulingError struct {
	RuleID   uuid.UUID
	TargetID string
	Attempts int
	Err      error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("automation: schedule rule %s for target %s failed after %d attempt(s): %v", e.RuleID, e.TargetID, e.Attempts, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// DeliveryError wraps a transport failure from the message sender.
// Error returns the transport text verbatim.
type DeliveryError struct {
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "delivery failed"
	}
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

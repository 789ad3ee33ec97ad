package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// FailoverSender attempts a primary send, then hands the same message to a
// secondary provider on error. Both together count as one delivery attempt.
type FailoverSender struct {
	primary       automation.MessageSender
	secondary     automation.MessageSender
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

// NewFailoverSender builds a failover sender with named providers.
func NewFailoverSender(primary automation.MessageSender, primaryName string, secondary automation.MessageSender, secondaryName string, logger *logging.Logger) *FailoverSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverSender{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ automation.MessageSender = (*FailoverSender)(nil)

// Send tries the primary provider first. The secondary's error is returned when both fail.
func (f *FailoverSender) Send(ctx context.Context, msg automation.OutboundMessage) error {
	if f == nil || f.primary == nil {
		return errors.New("messaging: failover primary sender not configured")
	}
	err := f.primary.Send(ctx, msg)
	if err == nil || f.secondary == nil {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	f.logger.Warn("primary send failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"error", err,
		"org_id", msg.OrgID,
		"execution_id", msg.ExecutionID,
	)
	if fallbackErr := f.secondary.Send(ctx, msg); fallbackErr != nil {
		f.logger.Error("fallback send failed",
			"provider", f.secondaryName,
			"error", fallbackErr,
			"execution_id", msg.ExecutionID,
		)
		return fallbackErr
	}
	return nil
}

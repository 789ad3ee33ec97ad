package messaging

import (
	"context"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// LogSender records messages in the log instead of delivering them.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a log-only sender for local runs.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg automation.OutboundMessage) error {
	s.logger.Info("log sender: would deliver message",
		"org_id", msg.OrgID,
		"execution_id", msg.ExecutionID,
		"channel", msg.Channel,
		"to", msg.To,
		"body_len", len(msg.Body),
	)
	return nil
}

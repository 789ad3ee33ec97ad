package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/clinic-automation/internal/automation"
)

// DefaultSubject is used when the clinic name is unknown.
const DefaultSubject = "Mensagem da clínica"

// EmailChannel adapts an EmailSender to the follow-up dispatcher.
type EmailChannel struct {
	sender EmailSender
}

// NewEmailChannel wraps sender.
func NewEmailChannel(sender EmailSender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

var _ automation.MessageSender = (*EmailChannel)(nil)

// Send emails the rendered follow-up. The subject is the clinic name when known.
func (c *EmailChannel) Send(ctx context.Context, msg automation.OutboundMessage) error {
	if c == nil || c.sender == nil {
		return errors.New("notify: email sender not configured")
	}
	to := strings.TrimSpace(msg.To)
	if to == "" || !strings.Contains(to, "@") {
		return errors.New("notify: valid email address required")
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}
	return c.sender.Send(ctx, EmailMessage{
		To:          to,
		Subject:     subject,
		Body:        msg.Body,
		OrgID:       msg.OrgID,
		ExecutionID: msg.ExecutionID.String(),
	})
}

package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTPSender(t *testing.T) {
	assert.Nil(t, NewSMTPSender(SMTPConfig{FromEmail: "clinic@example.com"}, nil))
	assert.Nil(t, NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}, nil))

	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", FromEmail: "clinic@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, 587, sender.cfg.Port)
	assert.Equal(t, "Clinic", sender.cfg.FromName)
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", FromEmail: "clinic@example.com", FromName: "Clinica Bella"}, nil)
	require.NotNil(t, sender)

	m, err := sender.buildMessage(EmailMessage{To: "ana@example.com", ToName: "Ana", Subject: "Reminder", Body: "See you tomorrow at 09:00"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Subject: Reminder")
	assert.Contains(t, out, "ana@example.com")
	assert.Contains(t, out, "clinic@example.com")
	assert.Contains(t, out, "See you tomorrow at 09:00")
}

func TestSMTPSender_InvalidRecipientFailsBeforeDial(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, FromEmail: "clinic@example.com"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "not an address", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp to")
}

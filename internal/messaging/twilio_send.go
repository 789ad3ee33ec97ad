package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var twilioSendTracer = otel.Tracer("clinic.internal.messaging.twilio_send")

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioSender posts SMS and WhatsApp messages using Twilio's REST API.
type TwilioSender struct {
	accountSID   string
	authToken    string
	from         string
	whatsAppFrom string
	baseURL      string
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewTwilioSender builds a sender. whatsAppFrom may be empty when WhatsApp is not enabled.
func NewTwilioSender(accountSID, authToken, from, whatsAppFrom string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID:   accountSID,
		authToken:    authToken,
		from:         NormalizeE164(from),
		whatsAppFrom: NormalizeE164(strings.TrimPrefix(whatsAppFrom, "whatsapp:")),
		baseURL:      twilioDefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// WithBaseURL points the sender at another API host.
func (s *TwilioSender) WithBaseURL(baseURL string) *TwilioSender {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

var _ automation.MessageSender = (*TwilioSender)(nil)

// Send dispatches one message. WhatsApp messages use the whatsapp: address scheme.
func (s *TwilioSender) Send(ctx context.Context, msg automation.OutboundMessage) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	to := NormalizeE164(msg.To)
	if to == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}
	from := s.from
	if msg.Channel == automation.ChannelWhatsApp {
		if s.whatsAppFrom == "" {
			return errors.New("messaging: twilio whatsapp sender not configured")
		}
		from = "whatsapp:" + s.whatsAppFrom
		to = "whatsapp:" + to
	}
	if from == "" {
		return errors.New("messaging: from required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", msg.OrgID),
		attribute.String("clinic.execution_id", msg.ExecutionID.String()),
		attribute.String("clinic.channel", string(msg.Channel)),
	)

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("messaging: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "twilio request failed")
		return fmt.Errorf("twilio send failed: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr := fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "twilio rejected message")
		s.logger.Error("failed to send twilio message", "error", sendErr, "org_id", msg.OrgID, "execution_id", msg.ExecutionID)
		return sendErr
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(body, &parsed)
	s.logger.Info("twilio message sent", "org_id", msg.OrgID, "execution_id", msg.ExecutionID, "channel", msg.Channel, "sid", parsed.SID)
	return nil
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}

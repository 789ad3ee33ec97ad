package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("clinic.internal.messaging.telnyx_send")

const telnyxDefaultBaseURL = "https://api.telnyx.com/v2"

// TelnyxSender posts SMS messages using Telnyx's V2 API. Each Send is a single
// attempt; failed follow-ups stay failed.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
}

// NewTelnyxSender builds a sender for Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID, from string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               NormalizeE164(from),
		baseURL:            telnyxDefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// WithBaseURL points the sender at another API host.
func (s *TelnyxSender) WithBaseURL(baseURL string) *TelnyxSender {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

var _ automation.MessageSender = (*TelnyxSender)(nil)

// Send dispatches one SMS.
func (s *TelnyxSender) Send(ctx context.Context, msg automation.OutboundMessage) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	to := NormalizeE164(msg.To)
	if to == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", msg.OrgID),
		attribute.String("clinic.execution_id", msg.ExecutionID.String()),
	)

	payload := map[string]interface{}{
		"to":   to,
		"text": msg.Body,
	}
	if s.from != "" {
		payload["from"] = s.from
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal telnyx payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("messaging: build telnyx request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "telnyx request failed")
		return fmt.Errorf("telnyx send failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr := fmt.Errorf("telnyx send failed: %s", formatTelnyxError(resp.StatusCode, body))
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "telnyx rejected message")
		s.logger.Error("failed to send telnyx sms", "error", sendErr, "org_id", msg.OrgID, "execution_id", msg.ExecutionID)
		return sendErr
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && parsed.Data.ID != "" {
		span.SetAttributes(attribute.String("clinic.provider_message_id", parsed.Data.ID))
	}
	s.logger.Info("telnyx sms sent", "org_id", msg.OrgID, "execution_id", msg.ExecutionID, "provider_message_id", parsed.Data.ID)
	return nil
}

type telnyxAPIErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func formatTelnyxError(status int, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed telnyxAPIErrors
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		detail := first.Detail
		if detail == "" {
			detail = first.Title
		}
		if first.Code != "" {
			return fmt.Sprintf("status %d code %s: %s", status, first.Code, detail)
		}
		return fmt.Sprintf("status %d: %s", status, detail)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}

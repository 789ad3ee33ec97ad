package notify

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// SESAPI is the subset of the SESv2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures SESSender. ConfigurationSet is optional and routes
// bounce and complaint events to whatever the set publishes to.
type SESConfig struct {
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// SESSender delivers follow-up emails through SESv2. Messages carrying an
// org or execution id are tagged so SES events can be joined back to them.
type SESSender struct {
	client    SESAPI
	from      string
	configSet string
	logger    *logging.Logger
}

// NewSESSender returns nil without a client or sender address.
func NewSESSender(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	fromEmail := strings.TrimSpace(cfg.FromEmail)
	if client == nil || fromEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	name := strings.TrimSpace(cfg.FromName)
	if name == "" {
		name = "Clinic"
	}
	return &SESSender{
		client:    client,
		from:      (&mail.Address{Name: name, Address: fromEmail}).String(),
		configSet: strings.TrimSpace(cfg.ConfigurationSet),
		logger:    logger,
	}
}

var _ EmailSender = (*SESSender)(nil)

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// SES tag values allow only ASCII letters, digits, '_', '-', '.' and '@'.
var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.@-]`)

func (m EmailMessage) sesTags() []types.MessageTag {
	var tags []types.MessageTag
	if v := sesTagUnsafe.ReplaceAllString(m.OrgID, "_"); v != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("org_id"), Value: aws.String(v)})
	}
	if v := sesTagUnsafe.ReplaceAllString(m.ExecutionID, "_"); v != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("execution_id"), Value: aws.String(v)})
	}
	return tags
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	to := msg.To
	if msg.ToName != "" {
		to = (&mail.Address{Name: msg.ToName, Address: msg.To}).String()
	}
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
		EmailTags: msg.sesTags(),
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	log := s.logger.WithOrg(msg.OrgID).With("execution_id", msg.ExecutionID)
	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Warn("notify: ses send failed", "error", err)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	log.Info("notify: email sent via ses", "message_id", aws.ToString(out.MessageId))
	return nil
}

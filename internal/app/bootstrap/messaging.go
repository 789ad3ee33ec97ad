package bootstrap

import (
	"strings"

	"github.com/wolfman30/clinic-automation/internal/automation"
	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/messaging"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// BuildMessageSender routes each channel to its provider. Channels without a
// provider fail delivery. When nothing is configured every message is logged.
func BuildMessageSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) automation.MessageSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return messaging.NewLogSender(logger)
	}

	providerCfg := messaging.ProviderSelectionConfig{
		Preference:         cfg.SMSProvider,
		TelnyxAPIKey:       cfg.TelnyxAPIKey,
		TelnyxProfileID:    cfg.TelnyxMessagingProfileID,
		TelnyxFromNumber:   cfg.TelnyxFromNumber,
		TwilioAccountSID:   cfg.TwilioAccountSID,
		TwilioAuthToken:    cfg.TwilioAuthToken,
		TwilioFromNumber:   cfg.TwilioFromNumber,
		TwilioWhatsAppFrom: cfg.TwilioWhatsAppFrom,
	}

	router := messaging.NewChannelRouter()
	sms, provider, reason := messaging.BuildSMSSender(providerCfg, logger)
	if sms != nil {
		router.Handle(automation.ChannelSMS, sms)
		logger.Info("sms sender configured", "provider", provider)
	} else {
		logger.Warn("sms sender not configured", "reason", reason)
	}
	if wa := messaging.BuildWhatsAppSender(providerCfg, logger); wa != nil {
		router.Handle(automation.ChannelWhatsApp, wa)
	}
	if email, name := buildEmailSender(cfg, ses, logger); email != nil {
		router.Handle(automation.ChannelEmail, notify.NewEmailChannel(email))
		logger.Info("email sender configured", "provider", name)
	}

	if len(router.Channels()) == 0 {
		logger.Warn("no delivery providers configured; follow-ups will only be logged")
		return messaging.NewLogSender(logger)
	}
	return router
}

func buildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string) {
	sendgrid := func() notify.EmailSender {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}
	sesSender := func() notify.EmailSender {
		if strings.TrimSpace(cfg.SESFromEmail) == "" {
			return nil
		}
		if s := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger); s != nil {
			return s
		}
		return nil
	}
	smtp := func() notify.EmailSender {
		if s := notify.NewSMTPSender(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.SMTPFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		return sendgrid(), "sendgrid"
	case "ses":
		return sesSender(), "ses"
	case "smtp":
		return smtp(), "smtp"
	case "stub":
		return notify.NewStubEmailSender(logger), "stub"
	case "none":
		return nil, ""
	default:
		if s := sendgrid(); s != nil {
			return s, "sendgrid"
		}
		if s := smtp(); s != nil {
			return s, "smtp"
		}
		return sesSender(), "ses"
	}
}

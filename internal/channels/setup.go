package channels

import (
	"fmt"

	"go.uber.org/zap"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/models"
)

// BuildRegistry wires a sender for every channel it has credentials for and
// fails when a channel in inUse is left without one. In dry-run mode every
// channel gets a LogSender.
func BuildRegistry(cfg config.ChannelsConfig, inUse []models.Channel, log *zap.Logger) (*Registry, error) {
	r := NewRegistry()

	if cfg.DryRun {
		for _, ch := range models.Channels {
			r.Register(ch, NewLogSender(ch, log))
		}
		return r, nil
	}

	r.Register(models.ChannelWhatsapp, NewWahaSender(cfg.WahaBaseURL, cfg.WahaAPIKey, cfg.WahaSession))

	if twilio, err := NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber); err == nil {
		r.Register(models.ChannelSMS, twilio)
	} else {
		log.Debug("SMS channel not configured", zap.Error(err))
	}

	if smtpSender, err := NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom); err == nil {
		r.Register(models.ChannelEmail, smtpSender)
	} else {
		log.Debug("Email channel not configured", zap.Error(err))
	}

	if err := r.Validate(inUse); err != nil {
		return nil, fmt.Errorf("retry schedule uses an unconfigured channel: %w", err)
	}
	return r, nil
}

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/goreconcile/pkg/config"
	"github.com/mihaimyh/goreconcile/pkg/notify"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// newDispatcher builds the welcome dispatcher for EMAIL_PROVIDER.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) (reconcile.NotificationDispatcher, error) {
	var sender notify.Sender
	switch cfg.EmailProvider {
	case config.EmailSMTP:
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
		if err != nil {
			return nil, err
		}
		sender = s
	case config.EmailPostmark:
		sender = notify.NewPostmarkSender(cfg.PostmarkServerToken)
	case config.EmailLog:
		sender = notify.NewLogSender(func(to, subject string) {
			logger.Info().Str("to", to).Str("subject", subject).Msg("Email provider not configured; welcome email logged")
		})
	default:
		return nil, fmt.Errorf("%w: unsupported email provider %q", reconcile.ErrInvalidConfig, cfg.EmailProvider)
	}

	return notify.NewWelcomeDispatcher(notify.WelcomeConfig{
		Sender:   sender,
		From:     cfg.EmailFrom,
		LoginURL: cfg.LoginURL,
	})
}

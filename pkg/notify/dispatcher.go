package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// DefaultWelcomeSubject is used when WelcomeConfig.Subject is empty.
const DefaultWelcomeSubject = "Your account is ready"

// WelcomeConfig configures a WelcomeDispatcher.
type WelcomeConfig struct {
	Sender   Sender
	From     string
	Subject  string
	LoginURL string
}

// WelcomeDispatcher renders the welcome email and hands it to a Sender.
type WelcomeDispatcher struct {
	config WelcomeConfig
}

var _ reconcile.NotificationDispatcher = (*WelcomeDispatcher)(nil)

// NewWelcomeDispatcher creates a WelcomeDispatcher.
func NewWelcomeDispatcher(config WelcomeConfig) (*WelcomeDispatcher, error) {
	if config.Sender == nil {
		return nil, errors.New("notify: sender is required")
	}
	if config.From == "" {
		return nil, errors.New("notify: from address is required")
	}
	if config.Subject == "" {
		config.Subject = DefaultWelcomeSubject
	}
	return &WelcomeDispatcher{config: config}, nil
}

// SendWelcome implements reconcile.NotificationDispatcher.
func (d *WelcomeDispatcher) SendWelcome(ctx context.Context, acct reconcile.Account, cred reconcile.CredentialDeliveryPayload) error {
	to := cred.Email
	if to == "" {
		to = acct.Email
	}

	html, text, err := RenderWelcomeEmail(WelcomeData{
		Name:       acct.DisplayName,
		Email:      to,
		Credential: cred.Credential,
		MustRotate: cred.MustRotate,
		LoginURL:   d.config.LoginURL,
		ExpiresAt:  FormatExpiration(acct.PlanExpiresAt),
	})
	if err != nil {
		return err
	}

	if err := d.config.Sender.Send(ctx, Message{
		From:    d.config.From,
		To:      to,
		Subject: d.config.Subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		return fmt.Errorf("send welcome to %s: %w", to, err)
	}
	return nil
}

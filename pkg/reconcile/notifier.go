package reconcile

import "context"

// NotificationDispatcher delivers the welcome message for a newly created account.
type NotificationDispatcher interface {
	SendWelcome(ctx context.Context, acct Account, cred CredentialDeliveryPayload) error
}

// NotificationDispatcherFunc adapts a function to NotificationDispatcher.
type NotificationDispatcherFunc func(ctx context.Context, acct Account, cred CredentialDeliveryPayload) error

func (f NotificationDispatcherFunc) SendWelcome(ctx context.Context, acct Account, cred CredentialDeliveryPayload) error {
	return f(ctx, acct, cred)
}

// NoopDispatcher discards notifications.
type NoopDispatcher struct{}

func (NoopDispatcher) SendWelcome(context.Context, Account, CredentialDeliveryPayload) error { return nil }

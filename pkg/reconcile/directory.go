package reconcile

import "context"

// AccountDirectory is the account store consumed by the Reconciler.
//
// Implementations must enforce email uniqueness and report violations from
// Create as ErrAccountExists. Lookups that match nothing return ErrAccountNotFound.
type AccountDirectory interface {
	// FindByEmail returns the account registered under email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create stores a new account and returns it with its assigned ID.
	Create(ctx context.Context, acct NewAccount) (*Account, error)

	// Update applies patch to the account with the given ID and returns the result.
	Update(ctx context.Context, id string, patch EntitlementPatch) (*Account, error)
}

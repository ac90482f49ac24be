package reconcile

import (
	"context"
	"errors"
)

// CircuitBreakerDirectory wraps an AccountDirectory with circuit breaker protection.
type CircuitBreakerDirectory struct {
	next AccountDirectory
	cb   CircuitBreaker
}

// NewCircuitBreakerDirectory creates a directory wrapper with circuit breaker.
func NewCircuitBreakerDirectory(next AccountDirectory, cb CircuitBreaker) *CircuitBreakerDirectory {
	return &CircuitBreakerDirectory{next: next, cb: cb}
}

func (d *CircuitBreakerDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return d.call(ctx, func() (*Account, error) {
		return d.next.FindByEmail(ctx, email)
	})
}

func (d *CircuitBreakerDirectory) Create(ctx context.Context, acct NewAccount) (*Account, error) {
	return d.call(ctx, func() (*Account, error) {
		return d.next.Create(ctx, acct)
	})
}

func (d *CircuitBreakerDirectory) Update(ctx context.Context, id string, patch EntitlementPatch) (*Account, error) {
	return d.call(ctx, func() (*Account, error) {
		return d.next.Update(ctx, id, patch)
	})
}

func (d *CircuitBreakerDirectory) call(ctx context.Context, fn func() (*Account, error)) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.cb.Allow(); err != nil {
		return nil, err
	}
	acct, err := fn()
	d.cb.Record(backendHealthy(err))
	return acct, err
}

// backendHealthy reports whether err came from a reachable directory.
// Not-found and already-exists are ordinary answers, not outages.
func backendHealthy(err error) bool {
	return err == nil || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAccountExists)
}

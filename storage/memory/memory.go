// Package memory provides an in-memory implementation of reconcile.AccountDirectory.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Directory implements reconcile.AccountDirectory using in-memory maps
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*reconcile.Account
	byEmail  map[string]string
	now      func() time.Time
}

// New creates a new in-memory directory
func New() *Directory {
	return &Directory{
		accounts: make(map[string]*reconcile.Account),
		byEmail:  make(map[string]string),
		now:      time.Now,
	}
}

// FindByEmail implements reconcile.AccountDirectory
func (d *Directory) FindByEmail(_ context.Context, email string) (*reconcile.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[email]
	if !ok {
		return nil, reconcile.ErrAccountNotFound
	}
	acctCopy := *d.accounts[id]
	return &acctCopy, nil
}

// Create implements reconcile.AccountDirectory
func (d *Directory) Create(_ context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	if acct.Email == "" {
		return nil, fmt.Errorf("invalid account: empty email")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byEmail[acct.Email]; taken {
		return nil, reconcile.ErrAccountExists
	}

	stored := acct.Build(uuid.NewString(), d.now().UTC())
	d.accounts[stored.ID] = stored
	d.byEmail[stored.Email] = stored.ID

	// Return a copy to prevent external mutations
	acctCopy := *stored
	return &acctCopy, nil
}

// Update implements reconcile.AccountDirectory
func (d *Directory) Update(_ context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.accounts[id]
	if !ok {
		return nil, reconcile.ErrAccountNotFound
	}
	patch.Apply(stored)
	stored.UpdatedAt = d.now().UTC()

	acctCopy := *stored
	return &acctCopy, nil
}

// Put stores acct as-is, replacing any account with the same ID or email.
// It seeds fixtures and fills the hot tier of a tiered directory.
func (d *Directory) Put(acct reconcile.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if prev, ok := d.byEmail[acct.Email]; ok && prev != acct.ID {
		delete(d.accounts, prev)
	}
	if old, ok := d.accounts[acct.ID]; ok && old.Email != acct.Email {
		delete(d.byEmail, old.Email)
	}
	d.accounts[acct.ID] = &acct
	d.byEmail[acct.Email] = acct.ID
}

// Len returns the number of stored accounts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}

// Clear removes all accounts.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = make(map[string]*reconcile.Account)
	d.byEmail = make(map[string]string)
}

package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

const testProjectID = "test-project"

// setupTestDirectory connects to the Firestore emulator named by FIRESTORE_EMULATOR_HOST.
func setupTestDirectory(t *testing.T) *Directory {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	// Unique collections per test run
	suffix := time.Now().UnixNano()
	d, err := New(client, Config{
		AccountsCollection: fmt.Sprintf("test_accounts_%d", suffix),
		EmailsCollection:   fmt.Sprintf("test_emails_%d", suffix),
	})
	require.NoError(t, err)
	return d
}

func newAccount(email string) reconcile.NewAccount {
	return reconcile.NewAccount{
		Email:              email,
		PasswordHash:       "hash",
		DisplayName:        "Maria Silva",
		Role:               reconcile.RoleUser,
		IsActive:           true,
		PlanTier:           reconcile.TierSemiannual,
		PlanExpiresAt:      time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
		MustChangePassword: true,
	}
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	d, err := New(&firestore.Client{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "accounts", d.accountsCollection)
	assert.Equal(t, "account_emails", d.emailsCollection)
}

func TestAccountMapping(t *testing.T) {
	birth := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	acct := &reconcile.Account{
		ID:            "a1",
		Email:         "maria@example.com",
		DisplayName:   "Maria",
		BirthDate:     &birth,
		Role:          reconcile.RoleUser,
		IsActive:      true,
		PlanTier:      reconcile.TierAnnual,
		PlanExpiresAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	got := toAccount("a1", fromAccount(acct))
	assert.Equal(t, acct, got)

	empty := toAccount("x", map[string]interface{}{})
	assert.Equal(t, "x", empty.ID)
	assert.Nil(t, empty.BirthDate)
	assert.True(t, empty.PlanExpiresAt.IsZero())
}

func TestDirectory_Lifecycle(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	_, err := d.FindByEmail(ctx, "maria/alt@example.com")
	assert.ErrorIs(t, err, reconcile.ErrAccountNotFound)

	created, err := d.Create(ctx, newAccount("maria/alt@example.com"))
	require.NoError(t, err)

	found, err := d.FindByEmail(ctx, "maria/alt@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, reconcile.TierSemiannual, found.PlanTier)

	_, err = d.Create(ctx, newAccount("maria/alt@example.com"))
	assert.ErrorIs(t, err, reconcile.ErrAccountExists)

	expires := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	updated, err := d.Update(ctx, created.ID, reconcile.EntitlementPatch{
		IsActive:      true,
		PlanTier:      reconcile.TierAnnual,
		PlanExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.True(t, updated.PlanExpiresAt.Equal(expires))
	assert.Equal(t, "hash", updated.PasswordHash)

	_, err = d.Update(ctx, "missing", reconcile.EntitlementPatch{PlanExpiresAt: expires})
	assert.ErrorIs(t, err, reconcile.ErrAccountNotFound)
}

func TestDirectory_ConcurrentCreate(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	const workers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Create(ctx, newAccount("race@example.com")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
}

package tiered

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
	"github.com/mihaimyh/goreconcile/storage/memory"
)

// countingDirectory counts cold lookups.
type countingDirectory struct {
	*memory.Directory
	finds atomic.Int32
}

func (c *countingDirectory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	c.finds.Add(1)
	return c.Directory.FindByEmail(ctx, email)
}

// failingDirectory fails every call.
type failingDirectory struct{}

var errCold = errors.New("cold unavailable")

func (failingDirectory) FindByEmail(context.Context, string) (*reconcile.Account, error) {
	return nil, errCold
}

func (failingDirectory) Create(context.Context, reconcile.NewAccount) (*reconcile.Account, error) {
	return nil, errCold
}

func (failingDirectory) Update(context.Context, string, reconcile.EntitlementPatch) (*reconcile.Account, error) {
	return nil, errCold
}

func newAccount(email string) reconcile.NewAccount {
	return reconcile.NewAccount{
		Email:         email,
		PasswordHash:  "hash",
		DisplayName:   "Maria Silva",
		Role:          reconcile.RoleUser,
		IsActive:      true,
		PlanTier:      reconcile.TierMonthly,
		PlanExpiresAt: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		d, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, d)
		assert.NoError(t, d.Close())
	})

	t.Run("nil hot tier", func(t *testing.T) {
		d, err := New(Config{Cold: memory.New()})
		assert.Nil(t, d)
		assert.Contains(t, err.Error(), "hot and cold tiers are required")
	})

	t.Run("nil cold tier", func(t *testing.T) {
		d, err := New(Config{Hot: memory.New()})
		assert.Nil(t, d)
		assert.Contains(t, err.Error(), "hot and cold tiers are required")
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		d, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncBackfill: true})
		require.NoError(t, err)
		defer d.Close()
		assert.Equal(t, 1000, cap(d.syncQueue))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		d, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncBackfill: true})
		require.NoError(t, err)
		assert.NoError(t, d.Close())
		assert.NoError(t, d.Close())
	})
}

func TestFindByEmail_ReadThrough(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := &countingDirectory{Directory: memory.New()}

	seeded, err := cold.Create(ctx, newAccount("maria@example.com"))
	require.NoError(t, err)

	d, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	found, err := d.FindByEmail(ctx, "maria@example.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)
	assert.Equal(t, int32(1), cold.finds.Load())
	assert.Equal(t, 1, hot.Len())

	// Second read is served by Hot
	_, err = d.FindByEmail(ctx, "maria@example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), cold.finds.Load())
}

func TestFindByEmail_NotFoundPropagates(t *testing.T) {
	d, err := New(Config{Hot: memory.New(), Cold: memory.New()})
	require.NoError(t, err)

	_, err = d.FindByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, reconcile.ErrAccountNotFound)
}

func TestFindByEmail_AsyncBackfill(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()
	_, err := cold.Create(ctx, newAccount("maria@example.com"))
	require.NoError(t, err)

	d, err := New(Config{Hot: hot, Cold: cold, AsyncBackfill: true})
	require.NoError(t, err)

	_, err = d.FindByEmail(ctx, "maria@example.com")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, 1, hot.Len())
}

func TestBackfill_QueueFull(t *testing.T) {
	var dropped atomic.Int32
	d := &Directory{
		hot:       memory.New(),
		cold:      memory.New(),
		conf:      Config{AsyncBackfill: true, AsyncErrorHandler: func(error) { dropped.Add(1) }},
		syncQueue: make(chan reconcile.Account, 1),
		shutdown:  make(chan struct{}),
	}

	d.backfill(&reconcile.Account{ID: "a"})
	d.backfill(&reconcile.Account{ID: "b"})
	assert.Equal(t, int32(1), dropped.Load())
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()
	d, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	created, err := d.Create(ctx, newAccount("joao@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, cold.Len())
	assert.Equal(t, 1, hot.Len())

	_, err = d.Create(ctx, newAccount("joao@example.com"))
	assert.ErrorIs(t, err, reconcile.ErrAccountExists)

	expires := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	_, err = d.Update(ctx, created.ID, reconcile.EntitlementPatch{
		IsActive:      true,
		PlanTier:      reconcile.TierAnnual,
		PlanExpiresAt: expires,
	})
	require.NoError(t, err)

	cached, err := hot.FindByEmail(ctx, "joao@example.com")
	require.NoError(t, err)
	assert.Equal(t, reconcile.TierAnnual, cached.PlanTier)
	assert.True(t, cached.PlanExpiresAt.Equal(expires))
}

func TestWriteThrough_ColdFailureSkipsHot(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	d, err := New(Config{Hot: hot, Cold: failingDirectory{}})
	require.NoError(t, err)

	_, err = d.Create(ctx, newAccount("maria@example.com"))
	assert.ErrorIs(t, err, errCold)
	_, err = d.Update(ctx, "a", reconcile.EntitlementPatch{})
	assert.ErrorIs(t, err, errCold)
	_, err = d.FindByEmail(ctx, "maria@example.com")
	assert.ErrorIs(t, err, errCold)
	assert.Equal(t, 0, hot.Len())
}

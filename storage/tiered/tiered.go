// Package tiered provides a Hot/Cold account directory that fronts a durable
// directory (Cold) with a fast in-process cache (Hot).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Cache is the hot tier. *memory.Directory satisfies it.
type Cache interface {
	FindByEmail(ctx context.Context, email string) (*reconcile.Account, error)
	Put(acct reconcile.Account)
}

// Config configures the tiered directory behavior
type Config struct {
	// Hot is the L1 cache consulted before the durable directory
	Hot Cache

	// Cold is the L2 directory (e.g., Postgres, Firestore) and the source of truth
	Cold reconcile.AccountDirectory

	// AsyncBackfill populates Hot from a background worker after a cold read.
	// If false, the cache fill happens inline.
	AsyncBackfill bool

	// SyncBufferSize is the size of the buffered channel for async backfills.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when an async backfill is dropped.
	AsyncErrorHandler func(error)
}

// Directory implements reconcile.AccountDirectory over two tiers:
// - Read-Through: FindByEmail (Hot → Cold → populate Hot)
// - Write-Through: Create, Update (Cold → Hot)
//
// Account ids never change, so a stale hot entry can only delay entitlement
// reads; writes always go to Cold and return its result.
type Directory struct {
	hot  Cache
	cold reconcile.AccountDirectory
	conf Config

	syncQueue chan reconcile.Account
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new tiered directory.
func New(config Config) (*Directory, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered directory: both hot and cold tiers are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	d := &Directory{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan reconcile.Account, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncBackfill {
		d.startWorker()
	}

	return d, nil
}

// Close stops the backfill worker (if enabled) after draining queued fills.
func (d *Directory) Close() error {
	if d.conf.AsyncBackfill {
		d.closeOnce.Do(func() {
			close(d.shutdown)
			d.wg.Wait()
		})
	}
	return nil
}

func (d *Directory) startWorker() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case acct := <-d.syncQueue:
				d.hot.Put(acct)
			case <-d.shutdown:
				for {
					select {
					case acct := <-d.syncQueue:
						d.hot.Put(acct)
					default:
						return
					}
				}
			}
		}
	}()
}

// backfill writes acct to the hot tier, inline or through the worker.
func (d *Directory) backfill(acct *reconcile.Account) {
	if acct == nil {
		return
	}
	if !d.conf.AsyncBackfill {
		d.hot.Put(*acct)
		return
	}
	select {
	case d.syncQueue <- *acct:
	default:
		if d.conf.AsyncErrorHandler != nil {
			d.conf.AsyncErrorHandler(fmt.Errorf("tiered backfill dropped for account %s: queue full", acct.ID))
		}
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// FindByEmail implements reconcile.AccountDirectory with read-through strategy.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	acct, err := d.hot.FindByEmail(ctx, email)
	if err == nil && acct != nil {
		return acct, nil
	}

	acct, err = d.cold.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	d.backfill(acct)
	return acct, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// Create implements reconcile.AccountDirectory. Cold decides uniqueness.
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	created, err := d.cold.Create(ctx, acct)
	if err != nil {
		return nil, err
	}
	d.hot.Put(*created)
	return created, nil
}

// Update implements reconcile.AccountDirectory.
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	updated, err := d.cold.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	d.hot.Put(*updated)
	return updated, nil
}

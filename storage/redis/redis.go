// Package redis provides a Redis implementation of the reconcile.AccountDirectory interface.
// Account creation claims the email index atomically via a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Directory implements reconcile.AccountDirectory using Redis
type Directory struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
	now     func() time.Time
}

// Config holds Redis directory configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goreconcile:")
	KeyPrefix string

	// MaxRetries is the maximum number of optimistic update attempts (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "goreconcile:",
		MaxRetries: 3,
	}
}

// New creates a new Redis account directory
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Directory, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "goreconcile:"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	d := &Directory{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
		now:     func() time.Time { return time.Now().UTC() },
	}
	d.loadScripts()

	return d, nil
}

func (d *Directory) loadScripts() {
	// Claim the email and store the account in one step
	d.scripts["create"] = redis.NewScript(`
		local emailKey = KEYS[1]
		local accountKey = KEYS[2]
		local id = ARGV[1]
		local data = ARGV[2]

		if redis.call('SETNX', emailKey, id) == 0 then
			return 'exists'
		end
		redis.call('SET', accountKey, data)
		return 'ok'
	`)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// accountRecord is the JSON document stored per account.
type accountRecord struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"passwordHash"`
	DisplayName        string     `json:"displayName"`
	Phone              string     `json:"phone,omitempty"`
	TaxID              string     `json:"taxId,omitempty"`
	BirthDate          *time.Time `json:"birthDate,omitempty"`
	Role               string     `json:"role"`
	IsActive           bool       `json:"isActive"`
	PlanTier           string     `json:"planTier"`
	PlanExpiresAt      time.Time  `json:"planExpiresAt"`
	MustChangePassword bool       `json:"mustChangePassword"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func fromAccount(a *reconcile.Account) accountRecord {
	return accountRecord{
		ID:                 a.ID,
		Email:              a.Email,
		PasswordHash:       a.PasswordHash,
		DisplayName:        a.DisplayName,
		Phone:              a.Phone,
		TaxID:              a.TaxID,
		BirthDate:          a.BirthDate,
		Role:               string(a.Role),
		IsActive:           a.IsActive,
		PlanTier:           string(a.PlanTier),
		PlanExpiresAt:      a.PlanExpiresAt,
		MustChangePassword: a.MustChangePassword,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r accountRecord) toAccount() *reconcile.Account {
	return &reconcile.Account{
		ID:                 r.ID,
		Email:              r.Email,
		PasswordHash:       r.PasswordHash,
		DisplayName:        r.DisplayName,
		Phone:              r.Phone,
		TaxID:              r.TaxID,
		BirthDate:          r.BirthDate,
		Role:               reconcile.Role(r.Role),
		IsActive:           r.IsActive,
		PlanTier:           reconcile.PlanTier(r.PlanTier),
		PlanExpiresAt:      r.PlanExpiresAt,
		MustChangePassword: r.MustChangePassword,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// FindByEmail implements reconcile.AccountDirectory
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	id, err := d.client.Get(ctx, d.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}
	return d.get(ctx, d.client, id)
}

func (d *Directory) get(ctx context.Context, c getter, id string) (*reconcile.Account, error) {
	data, err := c.Get(ctx, d.accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return rec.toAccount(), nil
}

// Create implements reconcile.AccountDirectory
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	created := acct.Build(uuid.NewString(), d.now())

	data, err := json.Marshal(fromAccount(created))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}

	keys := []string{d.emailKey(created.Email), d.accountKey(created.ID)}
	status, err := d.scripts["create"].Run(ctx, d.client, keys, created.ID, data).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if status == "exists" {
		return nil, reconcile.ErrAccountExists
	}
	return created, nil
}

// Update implements reconcile.AccountDirectory
// The read-modify-write runs under WATCH and retries on contention.
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	key := d.accountKey(id)
	var updated *reconcile.Account

	txf := func(tx *redis.Tx) error {
		acct, err := d.get(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(acct)
		acct.UpdatedAt = d.now()

		data, err := json.Marshal(fromAccount(acct))
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = acct
		}
		return err
	}

	for i := 0; i < d.config.MaxRetries; i++ {
		err := d.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, reconcile.ErrAccountNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("failed to update account %s: too much contention", id)
}

func (d *Directory) emailKey(email string) string {
	return fmt.Sprintf("%semail:%s", d.config.KeyPrefix, email)
}

func (d *Directory) accountKey(id string) string {
	return fmt.Sprintf("%saccount:%s", d.config.KeyPrefix, id)
}

// Close closes the Redis client
func (d *Directory) Close() error {
	return d.client.Close()
}

// Ping checks if Redis is reachable
func (d *Directory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

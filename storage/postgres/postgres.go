// Package postgres provides a PostgreSQL implementation of reconcile.AccountDirectory.
// Email uniqueness is enforced by a UNIQUE constraint on accounts.email.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                   TEXT PRIMARY KEY,
	email                TEXT NOT NULL UNIQUE,
	password_hash        TEXT NOT NULL,
	display_name         TEXT NOT NULL,
	phone                TEXT NOT NULL DEFAULT '',
	tax_id               TEXT NOT NULL DEFAULT '',
	birth_date           DATE,
	role                 TEXT NOT NULL DEFAULT 'user',
	is_active            BOOLEAN NOT NULL DEFAULT FALSE,
	plan_tier            TEXT NOT NULL DEFAULT '',
	plan_expires_at      TIMESTAMPTZ NOT NULL,
	must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
)`

const accountColumns = `id, email, password_hash, display_name, phone, tax_id, birth_date, role,
	is_active, plan_tier, plan_expires_at, must_change_password, created_at, updated_at`

// Directory implements reconcile.AccountDirectory using PostgreSQL
type Directory struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL directory configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// EnsureSchema creates the accounts table when it does not exist
	EnsureSchema bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		EnsureSchema:    true,
	}
}

// New creates a new PostgreSQL directory
func New(ctx context.Context, config Config) (*Directory, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Directory{pool: pool, config: config}
	if config.EnsureSchema {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return d, nil
}

// Close closes the PostgreSQL connection pool
func (d *Directory) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Ping verifies the database is reachable
func (d *Directory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// FindByEmail implements reconcile.AccountDirectory
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acct, nil
}

// Create implements reconcile.AccountDirectory
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	now := time.Now().UTC()
	row := d.pool.QueryRow(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (email) DO NOTHING
			RETURNING `+accountColumns,
		uuid.NewString(), acct.Email, acct.PasswordHash, acct.DisplayName, acct.Phone, acct.TaxID,
		string(acct.Role), acct.IsActive, string(acct.PlanTier), acct.PlanExpiresAt.UTC(),
		acct.MustChangePassword, now)

	created, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reconcile.ErrAccountExists
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, reconcile.ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// Update implements reconcile.AccountDirectory
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	row := d.pool.QueryRow(ctx,
		`UPDATE accounts
			SET is_active = $2, plan_tier = $3, plan_expires_at = $4, updated_at = $5
			WHERE id = $1
			RETURNING `+accountColumns,
		id, patch.IsActive, string(patch.PlanTier), patch.PlanExpiresAt.UTC(), time.Now().UTC())

	updated, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return updated, nil
}

func scanAccount(row pgx.Row) (*reconcile.Account, error) {
	var (
		acct      reconcile.Account
		role      string
		tier      string
		birthDate *time.Time
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.DisplayName, &acct.Phone,
		&acct.TaxID, &birthDate, &role, &acct.IsActive, &tier, &acct.PlanExpiresAt,
		&acct.MustChangePassword, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acct.Role = reconcile.Role(role)
	acct.PlanTier = reconcile.PlanTier(tier)
	acct.BirthDate = birthDate
	return &acct, nil
}

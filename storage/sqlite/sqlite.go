// Package sqlite provides a SQLite implementation of reconcile.AccountDirectory
// backed by the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "accounts.db"

const selectAccount = `SELECT
	id, email, password_hash, display_name, phone, tax_id, birth_date, role,
	is_active, plan_tier, plan_expires_at, must_change_password, created_at, updated_at
	FROM accounts`

// Directory implements reconcile.AccountDirectory using SQLite.
type Directory struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the account database in dir.
func Open(dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory data dir: %w", err)
	}

	dsn := filepath.Join(dir, DefaultFileName) + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &Directory{db: db, now: time.Now}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Directory) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id                   TEXT PRIMARY KEY,
		email                TEXT NOT NULL UNIQUE,
		password_hash        TEXT NOT NULL,
		display_name         TEXT NOT NULL DEFAULT '',
		phone                TEXT NOT NULL DEFAULT '',
		tax_id               TEXT NOT NULL DEFAULT '',
		birth_date           INTEGER,
		role                 TEXT NOT NULL DEFAULT 'user',
		is_active            INTEGER NOT NULL DEFAULT 0,
		plan_tier            TEXT NOT NULL DEFAULT '',
		plan_expires_at      INTEGER NOT NULL,
		must_change_password INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("init account schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (d *Directory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// FindByEmail implements reconcile.AccountDirectory.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	return d.queryOne(ctx, selectAccount+` WHERE email = ?`, email)
}

// Create implements reconcile.AccountDirectory.
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	stored := acct.Build(uuid.NewString(), d.now().UTC())

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, display_name, phone, tax_id, birth_date, role,
			is_active, plan_tier, plan_expires_at, must_change_password, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		stored.ID, stored.Email, stored.PasswordHash, stored.DisplayName, stored.Phone, stored.TaxID,
		string(stored.Role), boolToInt(stored.IsActive), string(stored.PlanTier),
		stored.PlanExpiresAt.UnixNano(), boolToInt(stored.MustChangePassword),
		stored.CreatedAt.UnixNano(), stored.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if n == 0 {
		return nil, reconcile.ErrAccountExists
	}
	return stored, nil
}

// Update implements reconcile.AccountDirectory.
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = ?, plan_tier = ?, plan_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		boolToInt(patch.IsActive), string(patch.PlanTier), patch.PlanExpiresAt.UnixNano(),
		d.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return nil, reconcile.ErrAccountNotFound
	}
	return d.queryOne(ctx, selectAccount+` WHERE id = ?`, id)
}

func (d *Directory) queryOne(ctx context.Context, query string, arg string) (*reconcile.Account, error) {
	var (
		acct                          reconcile.Account
		role, tier                    string
		birthDate                     sql.NullInt64
		isActive, mustChange          int
		expiresAt, createdAt, updated int64
	)
	err := d.db.QueryRowContext(ctx, query, arg).Scan(
		&acct.ID, &acct.Email, &acct.PasswordHash, &acct.DisplayName, &acct.Phone, &acct.TaxID,
		&birthDate, &role, &isActive, &tier, &expiresAt, &mustChange, &createdAt, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	acct.Role = reconcile.Role(role)
	acct.PlanTier = reconcile.PlanTier(tier)
	acct.IsActive = isActive != 0
	acct.MustChangePassword = mustChange != 0
	acct.PlanExpiresAt = time.Unix(0, expiresAt).UTC()
	acct.CreatedAt = time.Unix(0, createdAt).UTC()
	acct.UpdatedAt = time.Unix(0, updated).UTC()
	if birthDate.Valid {
		t := time.Unix(0, birthDate.Int64).UTC()
		acct.BirthDate = &t
	}
	return &acct, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package mysql provides a MySQL implementation of reconcile.AccountDirectory using GORM.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// accountRow is the GORM model for the accounts table.
type accountRow struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)"`
	Email              string     `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin;not null"`
	PasswordHash       string     `gorm:"type:text;not null"`
	DisplayName        string     `gorm:"type:varchar(150);not null"`
	Phone              string     `gorm:"type:varchar(50)"`
	TaxID              string     `gorm:"type:varchar(50)"`
	BirthDate          *time.Time `gorm:"type:date;default:null"`
	Role               string     `gorm:"type:varchar(50);default:'user'"`
	IsActive           bool       `gorm:"not null"`
	PlanTier           string     `gorm:"type:varchar(50)"`
	PlanExpiresAt      time.Time  `gorm:"type:datetime(6);not null"`
	MustChangePassword bool       `gorm:"not null"`
	CreatedAt          time.Time  `gorm:"type:datetime(6)"`
	UpdatedAt          time.Time  `gorm:"type:datetime(6)"`
}

func (accountRow) TableName() string { return "accounts" }

func (r *accountRow) toAccount() *reconcile.Account {
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
		PlanExpiresAt:      r.PlanExpiresAt.UTC(),
		MustChangePassword: r.MustChangePassword,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

// Config holds MySQL directory configuration
type Config struct {
	// DSN is the go-sql-driver DSN, e.g. "user:pass@tcp(127.0.0.1:3306)/app?charset=utf8mb4&parseTime=True&loc=UTC"
	DSN string

	// AutoMigrate creates or updates the accounts table on startup
	AutoMigrate bool

	// MaxRetries is the number of connection attempts (default: 5)
	MaxRetries int

	// RetryDelay is the wait between connection attempts (default: 2s)
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		AutoMigrate: true,
		MaxRetries:  5,
		RetryDelay:  2 * time.Second,
	}
}

// Directory implements reconcile.AccountDirectory using GORM over MySQL.
type Directory struct {
	db *gorm.DB
}

// New connects to MySQL, retrying while the server comes up.
func New(ctx context.Context, config Config) (*Directory, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < config.MaxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:               config.DSN,
			DefaultStringSize: 256,
		}), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			break
		}
		if i < config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(config.RetryDelay):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return NewWithDB(ctx, db, config.AutoMigrate)
}

// NewWithDB wraps an existing GORM handle. The handle should be opened with
// gorm.Config.TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewWithDB(ctx context.Context, db *gorm.DB, autoMigrate bool) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&accountRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate accounts: %w", err)
		}
	}
	return &Directory{db: db}, nil
}

// Close closes the underlying connection pool.
func (d *Directory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindByEmail implements reconcile.AccountDirectory.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	var row accountRow
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return row.toAccount(), nil
}

// Create implements reconcile.AccountDirectory.
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	now := time.Now().UTC()
	row := accountRow{
		ID:                 uuid.NewString(),
		Email:              acct.Email,
		PasswordHash:       acct.PasswordHash,
		DisplayName:        acct.DisplayName,
		Phone:              acct.Phone,
		TaxID:              acct.TaxID,
		Role:               string(acct.Role),
		IsActive:           acct.IsActive,
		PlanTier:           string(acct.PlanTier),
		PlanExpiresAt:      acct.PlanExpiresAt.UTC(),
		MustChangePassword: acct.MustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := d.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, reconcile.ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return row.toAccount(), nil
}

// Update implements reconcile.AccountDirectory.
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	var row accountRow
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]interface{}{
			"is_active":       patch.IsActive,
			"plan_tier":       string(patch.PlanTier),
			"plan_expires_at": patch.PlanExpiresAt.UTC(),
			"updated_at":      time.Now().UTC(),
		}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reconcile.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return row.toAccount(), nil
}

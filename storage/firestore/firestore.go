// Package firestore provides a Firestore implementation of the reconcile.AccountDirectory interface.
// Email uniqueness is enforced by an index collection written in the same transaction as the account.
package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Directory implements reconcile.AccountDirectory using Google Cloud Firestore
type Directory struct {
	client             *firestore.Client
	accountsCollection string
	emailsCollection   string
	now                func() time.Time
}

// Config holds Firestore directory configuration
type Config struct {
	// AccountsCollection is the Firestore collection for account documents
	// Default: "accounts"
	AccountsCollection string

	// EmailsCollection maps an email to its account id
	// Default: "account_emails"
	EmailsCollection string
}

// New creates a new Firestore account directory
func New(client *firestore.Client, config Config) (*Directory, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.AccountsCollection == "" {
		config.AccountsCollection = "accounts"
	}
	if config.EmailsCollection == "" {
		config.EmailsCollection = "account_emails"
	}

	return &Directory{
		client:             client,
		accountsCollection: config.AccountsCollection,
		emailsCollection:   config.EmailsCollection,
		now:                func() time.Time { return time.Now().UTC() },
	}, nil
}

// FindByEmail implements reconcile.AccountDirectory
func (d *Directory) FindByEmail(ctx context.Context, email string) (*reconcile.Account, error) {
	snap, err := d.emailDoc(email).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, reconcile.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}

	id := getString(snap.Data(), "accountId")
	if id == "" {
		return nil, reconcile.ErrAccountNotFound
	}

	snap, err = d.accountDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, reconcile.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return toAccount(id, snap.Data()), nil
}

// Create implements reconcile.AccountDirectory
func (d *Directory) Create(ctx context.Context, acct reconcile.NewAccount) (*reconcile.Account, error) {
	created := acct.Build(uuid.NewString(), d.now())

	err := d.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(d.emailDoc(created.Email), map[string]interface{}{
			"accountId": created.ID,
			"createdAt": created.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(d.accountDoc(created.ID), fromAccount(created))
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, reconcile.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// Update implements reconcile.AccountDirectory
func (d *Directory) Update(ctx context.Context, id string, patch reconcile.EntitlementPatch) (*reconcile.Account, error) {
	ref := d.accountDoc(id)
	var updated *reconcile.Account

	err := d.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return reconcile.ErrAccountNotFound
			}
			return err
		}

		acct := toAccount(id, snap.Data())
		patch.Apply(acct)
		acct.UpdatedAt = d.now()

		if err := tx.Update(ref, []firestore.Update{
			{Path: "isActive", Value: acct.IsActive},
			{Path: "planTier", Value: string(acct.PlanTier)},
			{Path: "planExpiresAt", Value: acct.PlanExpiresAt},
			{Path: "updatedAt", Value: acct.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = acct
		return nil
	})
	if errors.Is(err, reconcile.ErrAccountNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return updated, nil
}

func (d *Directory) accountDoc(id string) *firestore.DocumentRef {
	return d.client.Collection(d.accountsCollection).Doc(id)
}

// emailDoc encodes the email since document ids cannot contain slashes.
func (d *Directory) emailDoc(email string) *firestore.DocumentRef {
	return d.client.Collection(d.emailsCollection).Doc(base64.RawURLEncoding.EncodeToString([]byte(email)))
}

func fromAccount(a *reconcile.Account) map[string]interface{} {
	data := map[string]interface{}{
		"email":              a.Email,
		"passwordHash":       a.PasswordHash,
		"displayName":        a.DisplayName,
		"phone":              a.Phone,
		"taxId":              a.TaxID,
		"role":               string(a.Role),
		"isActive":           a.IsActive,
		"planTier":           string(a.PlanTier),
		"planExpiresAt":      a.PlanExpiresAt,
		"mustChangePassword": a.MustChangePassword,
		"createdAt":          a.CreatedAt,
		"updatedAt":          a.UpdatedAt,
	}
	if a.BirthDate != nil {
		data["birthDate"] = *a.BirthDate
	}
	return data
}

func toAccount(id string, data map[string]interface{}) *reconcile.Account {
	acct := &reconcile.Account{
		ID:                 id,
		Email:              getString(data, "email"),
		PasswordHash:       getString(data, "passwordHash"),
		DisplayName:        getString(data, "displayName"),
		Phone:              getString(data, "phone"),
		TaxID:              getString(data, "taxId"),
		Role:               reconcile.Role(getString(data, "role")),
		IsActive:           getBool(data, "isActive"),
		PlanTier:           reconcile.PlanTier(getString(data, "planTier")),
		PlanExpiresAt:      getTime(data, "planExpiresAt"),
		MustChangePassword: getBool(data, "mustChangePassword"),
		CreatedAt:          getTime(data, "createdAt"),
		UpdatedAt:          getTime(data, "updatedAt"),
	}
	if birth, ok := data["birthDate"].(time.Time); ok && !birth.IsZero() {
		acct.BirthDate = &birth
	}
	return acct
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

// Package reconcile applies payment-provider subscription events to account state.
//
// A Reconciler validates an inbound WebhookEvent, resolves the purchased product
// through a PlanCatalog, and then creates or updates the matching account through
// an AccountDirectory. Newly provisioned accounts receive a best-effort welcome
// notification through a NotificationDispatcher.
package reconcile

import "time"

// Recognized event types. Any other value is acknowledged without changes.
const (
	EventSubscriptionCreated = "subscription_created"
	EventSubscriptionRenewed = "subscription_renewed"
)

// PlanTier identifies the entitlement granted by a plan.
type PlanTier string

const (
	TierMonthly    PlanTier = "mensal"
	TierSemiannual PlanTier = "semestral"
	TierAnnual     PlanTier = "anual"
)

// Valid reports whether t is one of the known tiers.
func (t PlanTier) Valid() bool {
	switch t {
	case TierMonthly, TierSemiannual, TierAnnual:
		return true
	}
	return false
}

// Role is the authorization role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// WebhookEvent is a decoded provider event. It is request-scoped and never persisted.
type WebhookEvent struct {
	Type string
	// Data is nil when the payload carried no data object.
	Data *EventData
}

// EventData holds the subscription details of an event.
type EventData struct {
	Customer CustomerInfo
	// PaidAt is nil when the provider did not report a payment time.
	PaidAt  *time.Time
	Product ProductRef
}

// CustomerInfo identifies the paying customer.
type CustomerInfo struct {
	Email string
	Name  string
	Phone string
	TaxID string
}

// ProductRef is the provider's label for the purchased product.
type ProductRef struct {
	Name string
}

// PlanEntry is the entitlement a catalog product grants.
type PlanEntry struct {
	Tier           PlanTier `json:"tier"`
	DurationMonths int      `json:"durationMonths"`
}

// Account is a user record as returned by an AccountDirectory.
type Account struct {
	ID                 string
	Email              string
	PasswordHash       string
	DisplayName        string
	Phone              string
	TaxID              string
	BirthDate          *time.Time
	Role               Role
	IsActive           bool
	PlanTier           PlanTier
	PlanExpiresAt      time.Time
	MustChangePassword bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewAccount is the creation payload passed to AccountDirectory.Create.
type NewAccount struct {
	Email              string
	PasswordHash       string
	DisplayName        string
	Phone              string
	TaxID              string
	Role               Role
	IsActive           bool
	PlanTier           PlanTier
	PlanExpiresAt      time.Time
	MustChangePassword bool
}

// EntitlementPatch is the update applied to an existing account.
// Credential and profile fields are never part of a patch.
type EntitlementPatch struct {
	IsActive      bool
	PlanTier      PlanTier
	PlanExpiresAt time.Time
}

// Apply copies the patch onto acct.
func (p EntitlementPatch) Apply(acct *Account) {
	acct.IsActive = p.IsActive
	acct.PlanTier = p.PlanTier
	acct.PlanExpiresAt = p.PlanExpiresAt
}

// Build returns the Account described by n with the given id and timestamp.
func (n NewAccount) Build(id string, now time.Time) *Account {
	return &Account{
		ID:                 id,
		Email:              n.Email,
		PasswordHash:       n.PasswordHash,
		DisplayName:        n.DisplayName,
		Phone:              n.Phone,
		TaxID:              n.TaxID,
		Role:               n.Role,
		IsActive:           n.IsActive,
		PlanTier:           n.PlanTier,
		PlanExpiresAt:      n.PlanExpiresAt,
		MustChangePassword: n.MustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CredentialDeliveryPayload carries the plaintext initial credential to the
// notification channel. It is kept apart from Account so the only place a
// plaintext secret leaves the reconciler is the dispatcher call.
type CredentialDeliveryPayload struct {
	Email      string
	Credential string
	MustRotate bool
}

// OutcomeKind classifies the result of reconciling one event.
type OutcomeKind string

const (
	OutcomeCreated  OutcomeKind = "created"
	OutcomeUpdated  OutcomeKind = "updated"
	OutcomeIgnored  OutcomeKind = "ignored"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the result of reconciling one event.
type Outcome struct {
	Kind      OutcomeKind
	Accepted  bool
	AccountID string
	Message   string
	// Err is set for rejected and failed outcomes and wraps one of the package sentinels.
	Err error
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultNotificationTimeout     = 30 * time.Second
	defaultNotificationConcurrency = 16
)

// Config configures a Reconciler.
type Config struct {
	// Catalog resolves product names to plans (required).
	Catalog *PlanCatalog

	// Directory stores accounts (required).
	Directory AccountDirectory

	// Credentials issues the initial credential for new accounts (required).
	Credentials CredentialStrategy

	// Dispatcher sends welcome notifications. Defaults to NoopDispatcher.
	Dispatcher NotificationDispatcher

	// HashCost is the bcrypt cost for stored credentials. Zero uses bcrypt.DefaultCost.
	HashCost int

	// NotificationTimeout bounds one welcome notification, including time spent
	// waiting for a free slot. Default: 30s
	NotificationTimeout time.Duration

	// NotificationConcurrency caps concurrent welcome notifications. Default: 16
	NotificationConcurrency int64

	Logger  Logger
	Metrics Metrics
}

// Reconciler applies subscription events to the account directory.
// It is safe for concurrent use.
type Reconciler struct {
	catalog     *PlanCatalog
	directory   AccountDirectory
	credentials CredentialStrategy
	dispatcher  NotificationDispatcher
	hashCost    int

	notifyTimeout time.Duration
	notifySlots   *semaphore.Weighted
	inflight      sync.WaitGroup

	logger  Logger
	metrics Metrics
}

// New validates cfg and returns a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidConfig)
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: credential strategy is required", ErrInvalidConfig)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NoopDispatcher{}
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = defaultNotificationTimeout
	}
	if cfg.NotificationConcurrency <= 0 {
		cfg.NotificationConcurrency = defaultNotificationConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}

	return &Reconciler{
		catalog:       cfg.Catalog,
		directory:     cfg.Directory,
		credentials:   cfg.Credentials,
		dispatcher:    cfg.Dispatcher,
		hashCost:      cfg.HashCost,
		notifyTimeout: cfg.NotificationTimeout,
		notifySlots:   semaphore.NewWeighted(cfg.NotificationConcurrency),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Reconcile applies one event and reports what happened. It never panics on
// bad input; every failure is described by the returned Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, ev *WebhookEvent) Outcome {
	start := time.Now()
	out := r.reconcile(ctx, ev)

	label := eventLabel(ev)
	r.metrics.RecordWebhookEvent(label, string(out.Kind))
	r.metrics.RecordWebhookProcessingDuration(label, time.Since(start))
	return out
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Catalog returns the plan catalog used by r.
func (r *Reconciler) Catalog() *PlanCatalog {
	return r.catalog
}

func (r *Reconciler) reconcile(ctx context.Context, ev *WebhookEvent) Outcome {
	if ev == nil || ev.Data == nil {
		return r.reject("malformed_payload", fmt.Errorf("%w: missing data object", ErrMalformedPayload))
	}
	if !IsHandledEvent(ev.Type) {
		r.logger.Debug("Ignoring webhook event", Field{"event_type", ev.Type})
		return Outcome{Kind: OutcomeIgnored, Accepted: true, Message: "event type not handled"}
	}
	if ev.Data.PaidAt == nil {
		r.logger.Debug("Ignoring webhook event without paidAt", Field{"event_type", ev.Type})
		return Outcome{Kind: OutcomeIgnored, Accepted: true, Message: "event has no payment date"}
	}

	customer := ev.Data.Customer
	if customer.Email == "" || customer.Name == "" {
		return r.reject("missing_customer_fields",
			fmt.Errorf("%w: customer email and name are required", ErrMissingCustomerFields))
	}

	plan, err := r.catalog.Resolve(ev.Data.Product.Name)
	if err != nil {
		return r.reject("unrecognized_plan",
			fmt.Errorf("%w: %q", ErrUnrecognizedPlan, ev.Data.Product.Name))
	}

	patch := EntitlementPatch{
		IsActive:      true,
		PlanTier:      plan.Tier,
		PlanExpiresAt: ComputeExpiration(*ev.Data.PaidAt, plan.DurationMonths),
	}

	existing, err := r.findByEmail(ctx, customer.Email)
	switch {
	case err == nil:
		return r.update(ctx, existing, patch)
	case errors.Is(err, ErrAccountNotFound):
		return r.create(ctx, customer, patch)
	default:
		r.logger.Error("Account lookup failed", Field{"error", err.Error()})
		return r.fail(fmt.Errorf("%w: %v", ErrDirectoryLookup, err))
	}
}

func (r *Reconciler) create(ctx context.Context, customer CustomerInfo, patch EntitlementPatch) Outcome {
	cred, err := r.credentials.Issue()
	if err != nil {
		return r.fail(fmt.Errorf("%w: %v", ErrCredentialIssue, err))
	}
	hash, err := HashCredential(cred.Plain, r.hashCost)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %v", ErrCredentialIssue, err))
	}

	start := time.Now()
	acct, err := r.directory.Create(ctx, NewAccount{
		Email:              customer.Email,
		PasswordHash:       hash,
		DisplayName:        customer.Name,
		Phone:              customer.Phone,
		TaxID:              customer.TaxID,
		Role:               RoleUser,
		IsActive:           patch.IsActive,
		PlanTier:           patch.PlanTier,
		PlanExpiresAt:      patch.PlanExpiresAt,
		MustChangePassword: cred.MustRotate,
	})
	r.observe("create", start, err)

	if errors.Is(err, ErrAccountExists) {
		// A concurrent delivery created the account between lookup and create.
		r.logger.Info("Account created concurrently, applying event as update",
			Field{"tier", string(patch.PlanTier)})
		existing, findErr := r.findByEmail(ctx, customer.Email)
		if findErr != nil {
			r.logger.Error("Account lookup after create conflict failed", Field{"error", findErr.Error()})
			return r.fail(fmt.Errorf("%w: %v", ErrDirectoryWrite, findErr))
		}
		return r.update(ctx, existing, patch)
	}
	if err != nil {
		r.logger.Error("Account creation failed", Field{"error", err.Error()})
		return r.fail(fmt.Errorf("%w: %v", ErrDirectoryWrite, err))
	}

	r.metrics.RecordAccountProvisioned(string(acct.PlanTier))
	r.logger.Info("Account provisioned",
		Field{"account_id", acct.ID},
		Field{"tier", string(acct.PlanTier)},
		Field{"expires_at", acct.PlanExpiresAt},
	)

	r.notify(ctx, *acct, CredentialDeliveryPayload{
		Email:      acct.Email,
		Credential: cred.Plain,
		MustRotate: cred.MustRotate,
	})

	return Outcome{Kind: OutcomeCreated, Accepted: true, AccountID: acct.ID, Message: "account created"}
}

func (r *Reconciler) update(ctx context.Context, existing *Account, patch EntitlementPatch) Outcome {
	start := time.Now()
	acct, err := r.directory.Update(ctx, existing.ID, patch)
	r.observe("update", start, err)
	if err != nil {
		r.logger.Error("Account update failed",
			Field{"account_id", existing.ID},
			Field{"error", err.Error()},
		)
		return r.fail(fmt.Errorf("%w: %v", ErrDirectoryWrite, err))
	}

	r.metrics.RecordAccountRenewed(string(acct.PlanTier))
	r.logger.Info("Account entitlement updated",
		Field{"account_id", acct.ID},
		Field{"tier", string(acct.PlanTier)},
		Field{"expires_at", acct.PlanExpiresAt},
	)
	return Outcome{Kind: OutcomeUpdated, Accepted: true, AccountID: acct.ID, Message: "account updated"}
}

func (r *Reconciler) findByEmail(ctx context.Context, email string) (*Account, error) {
	start := time.Now()
	acct, err := r.directory.FindByEmail(ctx, email)
	r.observe("find", start, err)
	return acct, err
}

// notify dispatches the welcome notification in the background. The request
// context only contributes its values: cancellation of the inbound request
// must not abort delivery for an account that has already been created.
func (r *Reconciler) notify(ctx context.Context, acct Account, cred CredentialDeliveryPayload) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
		defer cancel()

		if err := r.notifySlots.Acquire(ctx, 1); err != nil {
			r.metrics.RecordNotification("failed")
			r.logger.Warn("Welcome notification dropped",
				Field{"account_id", acct.ID},
				Field{"error", err.Error()},
			)
			return
		}
		defer r.notifySlots.Release(1)

		if err := r.send(ctx, acct, cred); err != nil {
			r.metrics.RecordNotification("failed")
			r.logger.Warn("Welcome notification failed",
				Field{"account_id", acct.ID},
				Field{"error", err.Error()},
			)
			return
		}
		r.metrics.RecordNotification("sent")
		r.logger.Debug("Welcome notification sent", Field{"account_id", acct.ID})
	}()
}

func (r *Reconciler) send(ctx context.Context, acct Account, cred CredentialDeliveryPayload) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("notification dispatcher panic: %v", rec)
		}
	}()
	return r.dispatcher.SendWelcome(ctx, acct, cred)
}

func (r *Reconciler) reject(reason string, err error) Outcome {
	r.metrics.RecordRejection(reason)
	r.logger.Info("Webhook event rejected", Field{"reason", reason}, Field{"error", err.Error()})
	return Outcome{Kind: OutcomeRejected, Message: err.Error(), Err: err}
}

func (r *Reconciler) fail(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Message: "account reconciliation failed", Err: err}
}

func (r *Reconciler) observe(op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrAccountNotFound):
		status = "not_found"
	case errors.Is(err, ErrAccountExists):
		status = "conflict"
	default:
		status = "error"
	}
	r.metrics.RecordDirectoryOperation(op, status, time.Since(start))
}

func eventLabel(ev *WebhookEvent) string {
	if ev == nil {
		return "invalid"
	}
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionRenewed:
		return ev.Type
	}
	return "other"
}

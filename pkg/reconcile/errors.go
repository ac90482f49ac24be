package reconcile

import "errors"

var (
	// ErrAccountNotFound is returned by an AccountDirectory when no account matches.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by AccountDirectory.Create when the email is taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrPlanNotFound is returned by PlanCatalog.Resolve for unknown products.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidPlanEntry is returned when a catalog entry has an unknown tier or a non-positive duration.
	ErrInvalidPlanEntry = errors.New("invalid plan entry")

	// ErrMalformedPayload is returned when the event body cannot be decoded or has no data object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingCustomerFields is returned when customer email or name is empty.
	ErrMissingCustomerFields = errors.New("missing customer fields")

	// ErrUnrecognizedPlan is returned when the event product is not in the catalog.
	ErrUnrecognizedPlan = errors.New("unrecognized plan")

	// ErrDirectoryLookup is returned when the account lookup fails for a reason other than not-found.
	ErrDirectoryLookup = errors.New("account lookup failed")

	// ErrDirectoryWrite is returned when creating or updating the account fails.
	ErrDirectoryWrite = errors.New("account write failed")

	// ErrCredentialIssue is returned when the initial credential cannot be generated or hashed.
	ErrCredentialIssue = errors.New("credential issue failed")

	// ErrCircuitOpen is returned when the directory circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidConfig is returned when a Reconciler is built from an incomplete Config.
	ErrInvalidConfig = errors.New("invalid reconciler configuration")
)

// IsClientError reports whether err is caused by the event content rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingCustomerFields) ||
		errors.Is(err, ErrUnrecognizedPlan)
}

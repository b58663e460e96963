package remote

import (
	"context"
	"time"
)

// API is the capability set of the remote utility-billing service.
//
// Every call may fail with ErrSessionExpired (recoverable by re-authenticating),
// an *APIError (the remote rejected the call) or any other error.
type API interface {
	Authenticate(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]Account, error)
	ListMeters(ctx context.Context, accountCode string) ([]Meter, error)
	GetIndications(ctx context.Context, accountCode, meterCode string, start, end time.Time) ([]Indication, error)
	SubmitIndications(ctx context.Context, accountCode, meterCode string, values map[string]float64, ignoreValidation bool) error
	GetPayments(ctx context.Context, accountCode string, start, end time.Time) ([]Payment, error)
	// GetLastPayment returns nil when the account has no payments
	GetLastPayment(ctx context.Context, accountCode string) (*Payment, error)
}

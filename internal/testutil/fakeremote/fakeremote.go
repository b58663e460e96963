// Package fakeremote provides an in-memory remote.API for tests.
package fakeremote

import (
	"context"
	"sync"
	"time"

	"github.com/septivank/utility-sync-worker/internal/remote"
)

// Submission records one SubmitIndications call
type Submission struct {
	AccountCode      string
	MeterCode        string
	Values           map[string]float64
	IgnoreValidation bool
}

// API is a configurable fake. Errors queued with Fail are returned by the
// next calls to the named method, one per call.
type API struct {
	mu sync.Mutex

	Accounts     []remote.Account
	Meters       map[string][]remote.Meter
	Payments     map[string][]remote.Payment
	LastPayments map[string]*remote.Payment
	Indications  map[string][]remote.Indication

	Submissions []Submission
	calls       map[string]int
	failures    map[string][]error
}

var _ remote.API = (*API)(nil)

func New() *API {
	return &API{
		Meters:       make(map[string][]remote.Meter),
		Payments:     make(map[string][]remote.Payment),
		LastPayments: make(map[string]*remote.Payment),
		Indications:  make(map[string][]remote.Indication),
		calls:        make(map[string]int),
		failures:     make(map[string][]error),
	}
}

// Fail queues errors for method
func (a *API) Fail(method string, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[method] = append(a.failures[method], errs...)
}

// Calls returns how many times method was invoked
func (a *API) Calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

// SetAccounts replaces the account list
func (a *API) SetAccounts(accounts ...remote.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Accounts = accounts
}

// SetMeters replaces the meters of an account
func (a *API) SetMeters(accountCode string, meters ...remote.Meter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range meters {
		meters[i].AccountCode = accountCode
	}
	a.Meters[accountCode] = meters
}

// SetLastPayment replaces the last payment of an account
func (a *API) SetLastPayment(accountCode string, payment *remote.Payment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastPayments[accountCode] = payment
}

// SubmissionsSnapshot returns a copy of the recorded submissions
func (a *API) SubmissionsSnapshot() []Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Submission(nil), a.Submissions...)
}

func (a *API) enter(method string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[method]++
	if queued := a.failures[method]; len(queued) > 0 {
		a.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (a *API) Authenticate(ctx context.Context) error {
	return a.enter("Authenticate")
}

func (a *API) ListAccounts(ctx context.Context) ([]remote.Account, error) {
	if err := a.enter("ListAccounts"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remote.Account(nil), a.Accounts...), nil
}

func (a *API) ListMeters(ctx context.Context, accountCode string) ([]remote.Meter, error) {
	if err := a.enter("ListMeters"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remote.Meter(nil), a.Meters[accountCode]...), nil
}

func (a *API) GetIndications(ctx context.Context, accountCode, meterCode string, start, end time.Time) ([]remote.Indication, error) {
	if err := a.enter("GetIndications"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remote.Indication(nil), a.Indications[accountCode+"/"+meterCode]...), nil
}

func (a *API) SubmitIndications(ctx context.Context, accountCode, meterCode string, values map[string]float64, ignoreValidation bool) error {
	if err := a.enter("SubmitIndications"); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	a.Submissions = append(a.Submissions, Submission{
		AccountCode:      accountCode,
		MeterCode:        meterCode,
		Values:           copied,
		IgnoreValidation: ignoreValidation,
	})
	return nil
}

func (a *API) GetPayments(ctx context.Context, accountCode string, start, end time.Time) ([]remote.Payment, error) {
	if err := a.enter("GetPayments"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]remote.Payment(nil), a.Payments[accountCode]...), nil
}

func (a *API) GetLastPayment(ctx context.Context, accountCode string) (*remote.Payment, error) {
	if err := a.enter("GetLastPayment"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.LastPayments[accountCode], nil
}

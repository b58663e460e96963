// Package record holds the locally tracked representations of remote
// accounts, meters and last payments.
//
// A single Tracked type serves all three kinds; behavior that differs per
// kind (refresh, attribute conversion, state) is looked up in a dispatch
// table keyed by Kind.
package record

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/session"
)

// Kind tags the record variant
type Kind string

const (
	KindAccount     Kind = "account"
	KindMeter       Kind = "meter"
	KindLastPayment Kind = "last_payment"
)

// ErrUnavailable is returned when the record's remote object is gone
var ErrUnavailable = errors.New("record is unavailable")

// Source gives records access to the remote through the owning account's session
type Source struct {
	API     remote.API
	Session *session.Session
}

// Tracked is one locally registered record
type Tracked struct {
	kind        Kind
	key         string
	code        string
	accountCode string
	src         Source

	// op serializes refreshes, actions and retirement of this record
	op sync.Mutex

	mu        sync.RWMutex
	enabled   bool
	retired   bool
	account   *remote.Account
	meter     *remote.Meter
	payment   *remote.Payment
	updatedAt time.Time
}

func AccountKey(accountCode string) string {
	return string(KindAccount) + ":" + accountCode
}

func MeterKey(accountCode, meterCode string) string {
	return string(KindMeter) + ":" + accountCode + ":" + meterCode
}

func LastPaymentKey(accountCode string) string {
	return string(KindLastPayment) + ":" + accountCode
}

// ParseKey splits a record key into its kind and codes
func ParseKey(key string) (Kind, []string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return "", nil, false
	}
	kind := Kind(parts[0])
	if _, ok := kinds[kind]; !ok {
		return "", nil, false
	}
	return kind, parts[1:], true
}

// NewAccount creates an account record
func NewAccount(src Source, account remote.Account) *Tracked {
	t := newTracked(KindAccount, AccountKey(account.Code), account.Code, account.Code, src)
	t.account = &account
	return t
}

// NewMeter creates a meter record
func NewMeter(src Source, meter remote.Meter) *Tracked {
	t := newTracked(KindMeter, MeterKey(meter.AccountCode, meter.Code), meter.Code, meter.AccountCode, src)
	t.meter = &meter
	return t
}

// NewLastPayment creates a last-payment record; payment may be nil
func NewLastPayment(src Source, accountCode string, payment *remote.Payment) *Tracked {
	t := newTracked(KindLastPayment, LastPaymentKey(accountCode), accountCode, accountCode, src)
	t.payment = payment
	return t
}

func newTracked(kind Kind, key, code, accountCode string, src Source) *Tracked {
	return &Tracked{
		kind:        kind,
		key:         key,
		code:        code,
		accountCode: accountCode,
		src:         src,
		enabled:     true,
		updatedAt:   time.Now(),
	}
}

func (t *Tracked) Kind() Kind          { return t.kind }
func (t *Tracked) Key() string         { return t.key }
func (t *Tracked) AccountCode() string { return t.accountCode }

// Code returns the record's own remote code: the meter code for meters,
// the account code otherwise
func (t *Tracked) Code() string { return t.code }

// Enabled reports whether the host wants this record refreshed
func (t *Tracked) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled && !t.retired
}

func (t *Tracked) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Retired reports whether the record was removed
func (t *Tracked) Retired() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retired
}

// Account returns a copy of the held account, nil for other kinds
func (t *Tracked) Account() *remote.Account {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.account == nil {
		return nil
	}
	account := *t.account
	return &account
}

// Meter returns the held meter, nil when the record is retired or its
// meter vanished upstream
func (t *Tracked) Meter() *remote.Meter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.retired || t.meter == nil {
		return nil
	}
	meter := *t.meter
	return &meter
}

// Payment returns the held last payment, possibly nil
func (t *Tracked) Payment() *remote.Payment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.payment == nil {
		return nil
	}
	payment := *t.payment
	return &payment
}

func (t *Tracked) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

// Source returns the remote access the record was created with
func (t *Tracked) Source() Source {
	return t.src
}

// Exclusive runs fn while no refresh or retirement of this record can
// interleave. It fails with ErrUnavailable once the record is retired.
func (t *Tracked) Exclusive(fn func() error) error {
	t.op.Lock()
	defer t.op.Unlock()
	if t.Retired() {
		return ErrUnavailable
	}
	return fn()
}

// Refresh re-reads the record's remote object
func (t *Tracked) Refresh(ctx context.Context) error {
	return t.Exclusive(func() error {
		return kinds[t.kind].refresh(ctx, t)
	})
}

// Retire marks the record removed; later actions on it fail validation
func (t *Tracked) Retire() {
	t.op.Lock()
	defer t.op.Unlock()
	t.mu.Lock()
	t.retired = true
	t.mu.Unlock()
}

// State returns the primary value of the record
func (t *Tracked) State() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return kinds[t.kind].state(t)
}

// Attributes converts the record to attribute form; redact may be nil
func (t *Tracked) Attributes(redact Redactor) map[string]any {
	t.mu.RLock()
	ops := kinds[t.kind]
	attrs := ops.attributes(t)
	t.mu.RUnlock()

	if redact != nil && len(attrs) > 0 {
		dateKeys, valueKeys := ops.sensitive(attrs)
		redact(attrs, dateKeys, valueKeys)
	}
	return attrs
}

// Name renders a display name from a template with {code} and {type}
// placeholders
func (t *Tracked) Name(format string) string {
	t.mu.RLock()
	code := kinds[t.kind].displayCode(t)
	t.mu.RUnlock()
	return strings.NewReplacer(
		"{code}", code,
		"{type}", kinds[t.kind].typeName,
	).Replace(format)
}

func (t *Tracked) swap(fn func()) {
	t.mu.Lock()
	fn()
	t.updatedAt = time.Now()
	t.mu.Unlock()
}

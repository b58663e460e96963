package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/septivank/utility-sync-worker/internal/action"
	"github.com/septivank/utility-sync-worker/internal/anomaly"
	"github.com/septivank/utility-sync-worker/internal/config"
	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/logging"
	"github.com/septivank/utility-sync-worker/internal/metrics"
	"github.com/septivank/utility-sync-worker/internal/reconcile"
	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/session"
	"go.uber.org/zap"
)

// ErrNoAccounts aborts setup of an entry whose credential sees no accounts
var ErrNoAccounts = errors.New("no accounts found")

// Entry is the orchestrator of one config entry: a credential, its
// accounts and every record tracked under them
type Entry struct {
	cfg      config.Entry
	api      remote.API
	root     *session.Session
	registry *host.RecordRegistry
	executor *action.Executor
	logger   *zap.Logger

	accounts *reconcile.Reconciler[remote.Account]

	mu     sync.RWMutex
	scopes map[string]*accountScope
}

// accountScope holds the per-account session and reconcilers
type accountScope struct {
	code        string
	options     config.AccountOptions
	session     *session.Session
	meters      *reconcile.Reconciler[remote.Meter]
	lastPayment *reconcile.Reconciler[string]
}

// NewEntry wires an entry. bus receives action outcome events; store may
// be nil to keep records in memory only.
func NewEntry(
	cfg config.Entry,
	api remote.API,
	store host.Store,
	bus host.EventBus,
	detector *anomaly.Detector,
	logger *zap.Logger,
) *Entry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logging.WithEntry(logger, cfg.ID, cfg.Username)

	e := &Entry{
		cfg:    cfg,
		api:    api,
		root:   session.New(cfg.ID, api, logger),
		logger: logger,
		scopes: make(map[string]*accountScope),
	}
	e.registry = host.NewRecordRegistry(cfg.ID, store, e.presentation, logger)

	var redact record.Redactor
	if cfg.DevPresentation {
		redact = record.DevPresentation
	}
	e.executor = action.NewExecutor(bus, e.registry, detector, redact, logger)

	e.accounts = reconcile.New(reconcile.Spec[remote.Account]{
		Kind:  record.KindAccount,
		Scope: cfg.ID,
		Key:   func(a remote.Account) string { return record.AccountKey(a.Code) },
		Construct: func(ctx context.Context, a remote.Account) (*record.Tracked, error) {
			scope, ok := e.scope(a.Code)
			if !ok {
				return nil, fmt.Errorf("account %s has no scope", a.Code)
			}
			return record.NewAccount(scope.source(api), a), nil
		},
	}, e.registry, logger)

	return e
}

func (e *Entry) ID() string { return e.cfg.ID }

// Registry exposes the entry's records
func (e *Entry) Registry() *host.RecordRegistry { return e.registry }

// Setup authenticates, verifies the credential sees at least one account
// and runs the first poll of every kind
func (e *Entry) Setup(ctx context.Context) error {
	e.logger.Info("setting up config entry")

	if err := e.api.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	accounts, err := session.Execute(ctx, e.root, e.api.ListAccounts)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("%w for %s", ErrNoAccounts, logging.MaskUsername(e.cfg.Username))
	}

	if err := e.registry.Reset(ctx); err != nil {
		e.logger.Warn("failed to reset persisted records", zap.Error(err))
	}

	e.syncAccounts(ctx, accounts)

	for _, code := range e.AccountCodes() {
		if err := e.PollMeters(ctx, code); err != nil {
			e.logger.Warn("initial meter poll failed", zap.String("account_code", code), zap.Error(err))
		}
		if err := e.PollLastPayments(ctx, code); err != nil {
			e.logger.Warn("initial last payment poll failed", zap.String("account_code", code), zap.Error(err))
		}
	}

	e.logger.Info("config entry set up", zap.Int("accounts", len(e.AccountCodes())))
	return nil
}

// PollAccounts refreshes the account list. Accounts that vanished take
// their meters and last payment with them. A failed fetch changes nothing.
func (e *Entry) PollAccounts(ctx context.Context) error {
	accounts, err := session.Execute(ctx, e.root, e.api.ListAccounts)
	if err != nil {
		metrics.RecordCycle(string(record.KindAccount), "fetch_failed")
		e.logger.Warn("account fetch failed, keeping tracked records", zap.Error(err))
		return fmt.Errorf("fetch accounts: %w", err)
	}
	e.syncAccounts(ctx, accounts)
	return nil
}

func (e *Entry) syncAccounts(ctx context.Context, accounts []remote.Account) {
	var (
		enabled []remote.Account
		tracked []remote.Account
		present = make(map[string]struct{}, len(accounts))
	)
	for _, account := range accounts {
		opts := e.cfg.ForAccount(account.Code)
		if opts.Disabled {
			e.logger.Debug("account disabled by configuration", zap.String("account_code", account.Code))
			continue
		}
		present[account.Code] = struct{}{}
		enabled = append(enabled, account)
		if opts.Track.Accounts {
			tracked = append(tracked, account)
		}
	}

	for _, account := range enabled {
		e.ensureScope(account.Code)
	}

	// Account records are reconciled before their scopes are dropped so a
	// vanished account is retired before its children
	e.accounts.Apply(ctx, tracked)

	for _, scope := range e.scopeList() {
		if _, ok := present[scope.code]; ok {
			continue
		}
		e.dropScope(ctx, scope)
	}

	metrics.SetTracked(e.cfg.ID, string(record.KindAccount), e.accounts.Len())
}

// PollMeters reconciles the meters of one account
func (e *Entry) PollMeters(ctx context.Context, accountCode string) error {
	scope, ok := e.scope(accountCode)
	if !ok {
		return fmt.Errorf("%w: account %s", host.ErrNotFound, accountCode)
	}
	if scope.meters == nil {
		return nil
	}
	_, err := scope.meters.Cycle(ctx)
	e.updateTrackedGauge(record.KindMeter)
	return err
}

// PollLastPayments reconciles the last payment of one account
func (e *Entry) PollLastPayments(ctx context.Context, accountCode string) error {
	scope, ok := e.scope(accountCode)
	if !ok {
		return fmt.Errorf("%w: account %s", host.ErrNotFound, accountCode)
	}
	if scope.lastPayment == nil {
		return nil
	}
	_, err := scope.lastPayment.Cycle(ctx)
	e.updateTrackedGauge(record.KindLastPayment)
	return err
}

// Unload retires every record of the entry
func (e *Entry) Unload(ctx context.Context) {
	e.accounts.Retire(ctx)
	for _, scope := range e.scopeList() {
		e.dropScope(ctx, scope)
	}
	e.logger.Info("config entry unloaded")
}

// AccountCodes returns the codes of all enabled accounts in order
func (e *Entry) AccountCodes() []string {
	e.mu.RLock()
	codes := make([]string, 0, len(e.scopes))
	for code := range e.scopes {
		codes = append(codes, code)
	}
	e.mu.RUnlock()
	sort.Strings(codes)
	return codes
}

// Options returns the configuration applying to an account
func (e *Entry) Options(accountCode string) config.AccountOptions {
	return e.cfg.ForAccount(accountCode)
}

// AccountScanInterval is how often the account list is re-read. One fetch
// serves every account, so the shortest interval among the enabled accounts
// wins. The default block counts while it can still admit new accounts.
func (e *Entry) AccountScanInterval() time.Duration {
	var interval time.Duration
	consider := func(d time.Duration) {
		if d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}

	if !e.cfg.Default.Disabled {
		consider(e.cfg.Default.ScanInterval.Accounts)
	}
	for _, scope := range e.scopeList() {
		consider(scope.options.ScanInterval.Accounts)
	}

	if interval == 0 {
		return e.cfg.Default.ScanInterval.Accounts
	}
	return interval
}

// Invocation is an action request addressed by record key
type Invocation struct {
	RequestID         string
	Action            action.Kind
	RecordKey         string
	EntityID          string
	Indications       any
	Incremental       bool
	IgnoreIndications bool
	Start             *time.Time
	End               *time.Time
}

// Invoke runs an action against a tracked record
func (e *Entry) Invoke(ctx context.Context, inv Invocation) (*action.Envelope, error) {
	// A missing record is reported by the executor like any other failure
	rec, _ := e.registry.Get(inv.RecordKey)

	entityID := inv.EntityID
	if entityID == "" {
		entityID = inv.RecordKey
	}

	req := action.Request{
		RequestID:         inv.RequestID,
		Kind:              inv.Action,
		EntityID:          entityID,
		Target:            rec,
		Indications:       inv.Indications,
		Incremental:       inv.Incremental,
		IgnoreIndications: inv.IgnoreIndications,
		Start:             inv.Start,
		End:               inv.End,
	}
	if rec != nil && e.cfg.ForAccount(rec.AccountCode()).DevPresentation {
		req.Redact = record.DevPresentation
	}

	return e.executor.Run(ctx, req)
}

func (e *Entry) presentation(rec *record.Tracked) (string, record.Redactor) {
	opts := e.cfg.ForAccount(rec.AccountCode())

	var redact record.Redactor
	if opts.DevPresentation {
		redact = record.DevPresentation
	}

	switch rec.Kind() {
	case record.KindMeter:
		return opts.NameFormat.Meters, redact
	case record.KindLastPayment:
		return opts.NameFormat.LastPayment, redact
	default:
		return opts.NameFormat.Accounts, redact
	}
}

func (e *Entry) scope(code string) (*accountScope, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	scope, ok := e.scopes[code]
	return scope, ok
}

func (e *Entry) scopeList() []*accountScope {
	e.mu.RLock()
	scopes := make([]*accountScope, 0, len(e.scopes))
	for _, scope := range e.scopes {
		scopes = append(scopes, scope)
	}
	e.mu.RUnlock()
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].code < scopes[j].code })
	return scopes
}

func (e *Entry) ensureScope(code string) *accountScope {
	e.mu.Lock()
	defer e.mu.Unlock()
	if scope, ok := e.scopes[code]; ok {
		return scope
	}

	logger := logging.WithAccount(e.logger, code)
	scope := &accountScope{
		code:    code,
		options: e.cfg.ForAccount(code),
		session: session.New(code, e.api, logger),
	}
	src := scope.source(e.api)

	if scope.options.Track.Meters {
		scope.meters = reconcile.New(reconcile.Spec[remote.Meter]{
			Kind:  record.KindMeter,
			Scope: code,
			Key: func(m remote.Meter) string {
				return record.MeterKey(code, m.Code)
			},
			Fetch: func(ctx context.Context) ([]remote.Meter, error) {
				meters, err := session.Execute(ctx, scope.session, func(ctx context.Context) ([]remote.Meter, error) {
					return e.api.ListMeters(ctx, code)
				})
				for i := range meters {
					meters[i].AccountCode = code
				}
				return meters, err
			},
			Construct: func(ctx context.Context, m remote.Meter) (*record.Tracked, error) {
				return record.NewMeter(src, m), nil
			},
		}, e.registry, logger)
	}

	if scope.options.Track.LastPayment {
		scope.lastPayment = reconcile.New(reconcile.Spec[string]{
			Kind:  record.KindLastPayment,
			Scope: code,
			Key:   record.LastPaymentKey,
			// One slot per account; the payment itself is read on
			// construction and on every refresh
			Fetch: func(ctx context.Context) ([]string, error) {
				return []string{code}, nil
			},
			Construct: func(ctx context.Context, accountCode string) (*record.Tracked, error) {
				payment, err := session.Execute(ctx, scope.session, func(ctx context.Context) (*remote.Payment, error) {
					return e.api.GetLastPayment(ctx, accountCode)
				})
				if err != nil {
					return nil, err
				}
				return record.NewLastPayment(src, accountCode, payment), nil
			},
		}, e.registry, logger)
	}

	e.scopes[code] = scope
	logger.Info("account scope created",
		zap.Bool("meters", scope.meters != nil),
		zap.Bool("last_payment", scope.lastPayment != nil),
	)
	return scope
}

func (e *Entry) dropScope(ctx context.Context, scope *accountScope) {
	if scope.meters != nil {
		scope.meters.Retire(ctx)
	}
	if scope.lastPayment != nil {
		scope.lastPayment.Retire(ctx)
	}

	e.mu.Lock()
	if e.scopes[scope.code] == scope {
		delete(e.scopes, scope.code)
	}
	e.mu.Unlock()

	e.logger.Info("account scope dropped", zap.String("account_code", scope.code))
	e.updateTrackedGauge(record.KindMeter)
	e.updateTrackedGauge(record.KindLastPayment)
}

func (e *Entry) updateTrackedGauge(kind record.Kind) {
	n := 0
	for _, scope := range e.scopeList() {
		switch {
		case kind == record.KindMeter && scope.meters != nil:
			n += scope.meters.Len()
		case kind == record.KindLastPayment && scope.lastPayment != nil:
			n += scope.lastPayment.Len()
		}
	}
	metrics.SetTracked(e.cfg.ID, string(kind), n)
}

func (s *accountScope) source(api remote.API) record.Source {
	return record.Source{API: api, Session: s.session}
}

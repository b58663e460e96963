// Package action runs user-triggered actions against tracked records and
// publishes exactly one outcome event per invocation.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/utility-sync-worker/internal/anomaly"
	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/indication"
	"github.com/septivank/utility-sync-worker/internal/logging"
	"github.com/septivank/utility-sync-worker/internal/metrics"
	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/session"
	"github.com/septivank/utility-sync-worker/tools/timeparser"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Request is one action invocation against a tracked record
type Request struct {
	RequestID string
	Kind      Kind
	EntityID  string
	Target    *record.Tracked

	// Indications accepts any form indication.Normalize does
	Indications       any
	Incremental       bool
	IgnoreIndications bool

	Start *time.Time
	End   *time.Time

	// Redact overrides the executor's redaction hook when set
	Redact record.Redactor
}

// Executor runs actions. Refreshes after submission go through the
// registry so the persisted snapshot follows.
type Executor struct {
	bus      host.EventBus
	registry host.Registry
	detector *anomaly.Detector
	redact   record.Redactor
	logger   *zap.Logger

	now func() time.Time
}

// NewExecutor creates an executor; registry, detector and redact may be nil
func NewExecutor(
	bus host.EventBus,
	registry host.Registry,
	detector *anomaly.Detector,
	redact record.Redactor,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = anomaly.NewDetector(0)
	}
	return &Executor{
		bus:      bus,
		registry: registry,
		detector: detector,
		redact:   redact,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes req and publishes its envelope on every exit path, including
// panics, before returning the error that occurred
func (e *Executor) Run(ctx context.Context, req Request) (env *Envelope, err error) {
	logger := logging.WithRequestID(e.logger, req.RequestID).With(
		zap.String("action", string(req.Kind)),
		zap.String("entity_id", req.EntityID),
	)
	logger.Info("begin handling action")

	env = &Envelope{Kind: req.Kind, EntityID: req.EntityID}

	defer func() {
		if p := recover(); p != nil {
			env.Success = false
			env.setComment("Unknown error: %v", p)
			logger.Error("action panicked", zap.Any("panic", p), zap.Stack("stack"))
			e.emit(ctx, logger, env)
			panic(p)
		}
		e.emit(ctx, logger, env)
	}()

	if !req.Kind.Valid() {
		err = &indication.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Kind)}
		env.setComment("Validation error: %s", err)
		return env, err
	}
	if req.Target == nil {
		err = &indication.ValidationError{Field: "entity", Reason: "target record is missing"}
		env.setComment("Validation error: %s", err)
		return env, err
	}

	env.AccountCode = req.Target.AccountCode()
	if req.Target.Kind() == record.KindMeter {
		env.MeterCode = req.Target.Code()
	}

	switch req.Kind {
	case KindPushIndications:
		err = e.pushIndications(ctx, req, env)
	case KindCalculateIndications:
		err = e.calculateIndications(req, env)
	case KindGetIndications:
		err = e.getIndications(ctx, req, env)
	case KindGetPayments:
		err = e.getPayments(ctx, req, env)
	}

	if err != nil {
		e.describeFailure(logger, env, err)
		return env, err
	}

	env.Success = true
	return env, nil
}

func (e *Executor) emit(ctx context.Context, logger *zap.Logger, env *Envelope) {
	metrics.RecordAction(string(env.Kind), env.Success)
	fields := env.Fields()
	logger.Debug("action outcome event", zap.Any("event", fields))
	if e.bus != nil {
		e.bus.Publish(ctx, EventName(env.Kind), fields)
	}
	logger.Info("finish handling action", zap.Bool("success", env.Success))
}

func (e *Executor) describeFailure(logger *zap.Logger, env *Envelope, err error) {
	switch {
	case indication.IsValidation(err):
		env.setComment("Validation error: %s", err)
		logger.Warn("action rejected", zap.Error(err))
	case remote.IsAPIError(err), remote.IsSessionExpired(err):
		env.setComment("API error: %s", err)
		logger.Warn("remote rejected action", zap.Error(err))
	default:
		env.setComment("Unknown error: %s", err)
		logger.Error("action failed", zap.Error(err),
			zap.String("account_code", env.AccountCode),
			zap.String("meter_code", env.MeterCode))
	}
}

func (e *Executor) pushIndications(ctx context.Context, req Request, env *Envelope) error {
	rec := req.Target
	if rec.Kind() != record.KindMeter {
		return &indication.ValidationError{Field: "entity", Reason: "indications can only be submitted for meters"}
	}

	src := rec.Source()
	err := rec.Exclusive(func() error {
		// The meter is re-read inside the exclusive section so a concurrent
		// removal can never be followed by a submission
		meter := rec.Meter()
		values, err := indication.Resolve(meter, req.Indications, req.Incremental)
		if err != nil {
			return err
		}
		env.Indications = values

		return src.Session.Do(ctx, func(ctx context.Context) error {
			return src.API.SubmitIndications(ctx, meter.AccountCode, meter.Code, values, req.IgnoreIndications)
		})
	})
	if errors.Is(err, record.ErrUnavailable) {
		return &indication.ValidationError{Field: "meter", Reason: "meter is unavailable"}
	}
	if err != nil {
		return err
	}

	env.setComment("Indications submitted successfully")
	if e.registry != nil {
		e.registry.RequestRefresh(ctx, rec)
	}
	return nil
}

func (e *Executor) calculateIndications(req Request, env *Envelope) error {
	rec := req.Target
	if rec.Kind() != record.KindMeter {
		return &indication.ValidationError{Field: "entity", Reason: "indications can only be calculated for meters"}
	}

	meter := rec.Meter()
	values, err := indication.Resolve(meter, req.Indications, req.Incremental)
	if err != nil {
		return err
	}
	env.Indications = values
	env.Anomalies = e.detector.DetectAll(meter, values)
	return nil
}

func (e *Executor) redactor(req Request) record.Redactor {
	if req.Redact != nil {
		return req.Redact
	}
	return e.redact
}

func (e *Executor) window(req Request, env *Envelope) error {
	start, end, err := timeparser.ResolveWindow(req.Start, req.End, e.now())
	if err != nil {
		return &indication.ValidationError{Field: "start", Reason: err.Error()}
	}
	env.Start, env.End = start, end
	return nil
}

func (e *Executor) getIndications(ctx context.Context, req Request, env *Envelope) error {
	rec := req.Target
	if rec.Kind() != record.KindMeter {
		return &indication.ValidationError{Field: "entity", Reason: "indications can only be fetched for meters"}
	}
	if err := e.window(req, env); err != nil {
		return err
	}
	if rec.Meter() == nil {
		return &indication.ValidationError{Field: "meter", Reason: "meter is unavailable"}
	}

	src := rec.Source()
	indications, err := session.Execute(ctx, src.Session, func(ctx context.Context) ([]remote.Indication, error) {
		return src.API.GetIndications(ctx, rec.AccountCode(), rec.Code(), env.Start, env.End)
	})
	if err != nil {
		return err
	}

	env.Result = make([]map[string]any, 0, len(indications))
	for i := range indications {
		env.Result = append(env.Result, record.RedactIndication(record.IndicationAttributes(&indications[i]), e.redactor(req)))
	}
	return nil
}

func (e *Executor) getPayments(ctx context.Context, req Request, env *Envelope) error {
	rec := req.Target
	if rec.Kind() == record.KindMeter {
		return &indication.ValidationError{Field: "entity", Reason: "payments can only be fetched for accounts"}
	}
	if err := e.window(req, env); err != nil {
		return err
	}

	src := rec.Source()
	payments, err := session.Execute(ctx, src.Session, func(ctx context.Context) ([]remote.Payment, error) {
		return src.API.GetPayments(ctx, rec.AccountCode(), env.Start, env.End)
	})
	if err != nil {
		return err
	}

	sum := decimal.Zero
	env.Result = make([]map[string]any, 0, len(payments))
	for i := range payments {
		sum = sum.Add(payments[i].Amount)
		env.Result = append(env.Result, record.RedactPayment(record.PaymentAttributes(&payments[i]), e.redactor(req)))
	}
	env.Sum = sum
	env.redact = e.redactor(req)
	return nil
}

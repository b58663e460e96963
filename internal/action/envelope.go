package action

import (
	"fmt"
	"time"

	"github.com/septivank/utility-sync-worker/internal/indication"
	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/shopspring/decimal"
)

// Kind names a user-triggered action
type Kind string

const (
	KindPushIndications      Kind = "push_indications"
	KindCalculateIndications Kind = "calculate_indications"
	KindGetIndications       Kind = "get_indications"
	KindGetPayments          Kind = "get_payments"
)

// EventDomain prefixes every outcome event name
const EventDomain = "tns_energo"

// EventName returns the outcome event name of an action kind
func EventName(kind Kind) string {
	return EventDomain + "_" + string(kind)
}

// Valid reports whether kind is a known action
func (k Kind) Valid() bool {
	switch k {
	case KindPushIndications, KindCalculateIndications, KindGetIndications, KindGetPayments:
		return true
	}
	return false
}

func (k Kind) dated() bool {
	return k == KindGetIndications || k == KindGetPayments
}

func (k Kind) resolving() bool {
	return k == KindPushIndications || k == KindCalculateIndications
}

// Envelope is the outcome of one action, published exactly once
type Envelope struct {
	Kind        Kind
	EntityID    string
	AccountCode string
	MeterCode   string
	Success     bool
	Comment     *string

	// push and calculate
	Indications indication.Values
	Anomalies   map[string]string

	// get_indications and get_payments
	Start  time.Time
	End    time.Time
	Result []map[string]any
	Sum    decimal.Decimal

	// redact applies to the rendered sum
	redact record.Redactor
}

func (e *Envelope) setComment(format string, args ...any) {
	comment := fmt.Sprintf(format, args...)
	e.Comment = &comment
}

// Fields renders the envelope as event payload
func (e *Envelope) Fields() map[string]any {
	fields := map[string]any{
		"entity_id": e.EntityID,
		"success":   e.Success,
		"comment":   nil,
	}
	if e.Comment != nil {
		fields["comment"] = *e.Comment
	}
	if e.AccountCode != "" {
		fields["account_code"] = e.AccountCode
	}
	if e.MeterCode != "" {
		fields["meter_code"] = e.MeterCode
	}

	if e.Kind.resolving() {
		if e.Indications != nil {
			fields["indications"] = map[string]float64(e.Indications)
		} else {
			fields["indications"] = nil
		}
	}
	if e.Kind == KindCalculateIndications {
		fields["anomalies"] = e.Anomalies
	}

	if e.Kind.dated() {
		fields["start"] = isoOrNil(e.Start)
		fields["end"] = isoOrNil(e.End)
		result := e.Result
		if result == nil {
			result = []map[string]any{}
		}
		fields["result"] = result
	}
	if e.Kind == KindGetPayments {
		fields["sum"] = e.Sum.InexactFloat64()
		if e.redact != nil {
			e.redact(fields, nil, []string{"sum"})
		}
	}
	return fields
}

// isoOrNil renders an unresolved window bound as nil
func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

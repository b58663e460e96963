package record

import (
	"context"
	"strings"

	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/session"
)

const stateUnknown = "unknown"

type kindOps struct {
	typeName    string
	refresh     func(ctx context.Context, t *Tracked) error
	state       func(t *Tracked) any
	attributes  func(t *Tracked) map[string]any
	sensitive   func(attrs map[string]any) (dateKeys, valueKeys []string)
	displayCode func(t *Tracked) string
}

var kinds = map[Kind]kindOps{
	KindAccount: {
		typeName: "account",
		refresh:  refreshAccount,
		state: func(t *Tracked) any {
			if t.account == nil || t.account.Balance == nil {
				return stateUnknown
			}
			balance, _ := t.account.Balance.Float64()
			return balance
		},
		attributes: func(t *Tracked) map[string]any {
			if t.account == nil {
				return map[string]any{}
			}
			return AccountAttributes(t.account)
		},
		sensitive: func(map[string]any) ([]string, []string) {
			return nil, []string{AttrCode, AttrAddress, AttrEmail, AttrDigitalInvoicesEmail, AttrControlledByCode}
		},
		displayCode: func(t *Tracked) string { return t.accountCode },
	},
	KindMeter: {
		typeName: "meter",
		refresh:  refreshMeter,
		state: func(t *Tracked) any {
			if t.meter == nil {
				return stateUnknown
			}
			if t.meter.Status == "" {
				return "ok"
			}
			return t.meter.Status
		},
		attributes: func(t *Tracked) map[string]any {
			if t.meter == nil {
				return map[string]any{}
			}
			return MeterAttributes(t.meter)
		},
		sensitive: func(attrs map[string]any) ([]string, []string) {
			values := []string{AttrMeterCode, AttrAccountCode}
			for key := range attrs {
				if strings.HasPrefix(key, "zone_") {
					values = append(values, key)
				}
			}
			return []string{AttrLastIndicationsDate}, values
		},
		displayCode: func(t *Tracked) string {
			if t.code == "" {
				return "<unknown>"
			}
			return t.code
		},
	},
	KindLastPayment: {
		typeName: "last payment",
		refresh:  refreshLastPayment,
		state: func(t *Tracked) any {
			if t.payment == nil {
				return stateUnknown
			}
			amount, _ := t.payment.Amount.Float64()
			return amount
		},
		attributes: func(t *Tracked) map[string]any {
			if t.payment == nil {
				return map[string]any{}
			}
			return PaymentAttributes(t.payment)
		},
		sensitive: func(map[string]any) ([]string, []string) {
			return []string{AttrPaidAt}, []string{AttrAmount, AttrSource}
		},
		displayCode: func(t *Tracked) string {
			if t.payment == nil {
				return "<?>"
			}
			return t.payment.TransactionID
		},
	},
}

func refreshAccount(ctx context.Context, t *Tracked) error {
	accounts, err := session.Execute(ctx, t.src.Session, t.src.API.ListAccounts)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account.Code == t.accountCode {
			account := account
			t.swap(func() { t.account = &account })
			return nil
		}
	}
	// Disappearance is handled by the account reconciler
	return nil
}

func refreshMeter(ctx context.Context, t *Tracked) error {
	meters, err := session.Execute(ctx, t.src.Session, func(ctx context.Context) ([]remote.Meter, error) {
		return t.src.API.ListMeters(ctx, t.accountCode)
	})
	if err != nil {
		return err
	}

	for _, meter := range meters {
		if meter.Code == t.code {
			meter := meter
			t.swap(func() { t.meter = &meter })
			return nil
		}
	}

	t.swap(func() { t.meter = nil })
	return ErrUnavailable
}

func refreshLastPayment(ctx context.Context, t *Tracked) error {
	payment, err := session.Execute(ctx, t.src.Session, func(ctx context.Context) (*remote.Payment, error) {
		return t.src.API.GetLastPayment(ctx, t.accountCode)
	})
	if err != nil {
		return err
	}
	t.swap(func() { t.payment = payment })
	return nil
}

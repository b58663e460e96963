package record_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/session"
	"github.com/septivank/utility-sync-worker/internal/testutil/fakeremote"
	"github.com/shopspring/decimal"
)

func newSource(api *fakeremote.API) record.Source {
	return record.Source{API: api, Session: session.New("100", api, nil)}
}

func TestKeys_ParseRoundTrip(t *testing.T) {
	kind, codes, ok := record.ParseKey(record.MeterKey("100", "M1"))
	if !ok || kind != record.KindMeter || len(codes) != 2 || codes[0] != "100" || codes[1] != "M1" {
		t.Errorf("Unexpected parse result: %v %v %v", kind, codes, ok)
	}
	if _, _, ok := record.ParseKey("sensor:100"); ok {
		t.Error("Expected unknown kind to be rejected")
	}
}

func TestRefresh_MeterVanishesBecomesUnavailable(t *testing.T) {
	api := fakeremote.New()
	api.SetMeters("100", remote.Meter{Code: "M1"})
	rec := record.NewMeter(newSource(api), remote.Meter{Code: "M1", AccountCode: "100"})

	if err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected refresh error: %v", err)
	}
	if rec.Meter() == nil {
		t.Fatal("Expected meter to be present after refresh")
	}

	api.SetMeters("100")
	err := rec.Refresh(context.Background())
	if !errors.Is(err, record.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if rec.Meter() != nil {
		t.Error("Expected meter to be absent after it vanished upstream")
	}
}

func TestRefresh_AccountReplacesValue(t *testing.T) {
	api := fakeremote.New()
	balance := decimal.NewFromFloat(42.5)
	api.SetAccounts(remote.Account{Code: "100", Balance: &balance})
	rec := record.NewAccount(newSource(api), remote.Account{Code: "100"})

	if got := rec.State(); got != "unknown" {
		t.Errorf("Expected unknown state before refresh, got %v", got)
	}
	if err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected refresh error: %v", err)
	}
	if got := rec.State(); got != 42.5 {
		t.Errorf("Expected balance 42.5, got %v", got)
	}
}

func TestRefresh_LastPaymentReauthenticatesOnce(t *testing.T) {
	api := fakeremote.New()
	api.SetLastPayment("100", &remote.Payment{Amount: decimal.NewFromInt(500), TransactionID: "tx9"})
	api.Fail("GetLastPayment", remote.ErrSessionExpired)
	rec := record.NewLastPayment(newSource(api), "100", nil)

	if err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected refresh error: %v", err)
	}
	if api.Calls("Authenticate") != 1 {
		t.Errorf("Expected 1 re-authentication, got %d", api.Calls("Authenticate"))
	}
	if rec.Payment() == nil || rec.Payment().TransactionID != "tx9" {
		t.Errorf("Expected payment tx9, got %+v", rec.Payment())
	}
	if got := rec.Name("Last payment {code}"); got != "Last payment tx9" {
		t.Errorf("Unexpected name %q", got)
	}
}

func TestRetire_BlocksLaterWork(t *testing.T) {
	api := fakeremote.New()
	rec := record.NewMeter(newSource(api), remote.Meter{Code: "M1", AccountCode: "100"})

	rec.Retire()

	if rec.Meter() != nil {
		t.Error("Expected retired meter to be absent")
	}
	if rec.Enabled() {
		t.Error("Expected retired record to be disabled")
	}
	err := rec.Exclusive(func() error {
		t.Error("Exclusive body must not run on a retired record")
		return nil
	})
	if !errors.Is(err, record.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestAttributes_MeterZonesAndRedaction(t *testing.T) {
	last := 12.5
	checkup := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	meter := remote.Meter{
		Code:                "M1",
		AccountCode:         "100",
		LastIndicationsDate: &checkup,
		Zones: map[string]remote.Zone{
			"t1": {Identifier: "1", Name: "day", LastIndication: &last},
			"t2": {Identifier: "2", Name: "night"},
		},
	}
	rec := record.NewMeter(newSource(fakeremote.New()), meter)

	attrs := rec.Attributes(nil)
	if attrs["zone_t1_last_indication"] != 12.5 {
		t.Errorf("Expected zone_t1_last_indication 12.5, got %v", attrs["zone_t1_last_indication"])
	}
	if attrs["zone_t2_last_indication"] != 0.0 {
		t.Errorf("Expected missing baseline rendered as 0, got %v", attrs["zone_t2_last_indication"])
	}

	first := rec.Attributes(record.DevPresentation)
	second := rec.Attributes(record.DevPresentation)
	if first[record.AttrMeterCode] == "M1" {
		t.Error("Expected meter code to be substituted")
	}
	if first[record.AttrMeterCode] != second[record.AttrMeterCode] {
		t.Error("Expected stand-ins to be deterministic")
	}
	if first[record.AttrLastIndicationsDate] != "2000-01-01T00:00:00Z" {
		t.Errorf("Expected date stand-in, got %v", first[record.AttrLastIndicationsDate])
	}
}

func TestAttributes_AccountControlledBy(t *testing.T) {
	rec := record.NewAccount(newSource(fakeremote.New()), remote.Account{Code: "100"})
	if _, ok := rec.Attributes(nil)[record.AttrControlledByCode]; ok {
		t.Error("Expected controlled_by_code only for controlled accounts")
	}

	rec = record.NewAccount(newSource(fakeremote.New()), remote.Account{Code: "100", IsControlled: true, ControlledByCode: "200"})
	if rec.Attributes(nil)[record.AttrControlledByCode] != "200" {
		t.Error("Expected controlled_by_code for controlled account")
	}
}

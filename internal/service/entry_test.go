package service_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/septivank/utility-sync-worker/internal/action"
	"github.com/septivank/utility-sync-worker/internal/config"
	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/service"
	"github.com/septivank/utility-sync-worker/internal/testutil/fakeremote"
	"github.com/shopspring/decimal"
)

type captureBus struct {
	mu     sync.Mutex
	events map[string]int
	last   map[string]any
}

func (b *captureBus) Publish(ctx context.Context, eventName string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string]int)
	}
	b.events[eventName]++
	b.last = payload
}

func testEntry(accounts map[string]config.AccountOptions) config.Entry {
	if accounts == nil {
		accounts = map[string]config.AccountOptions{}
	}
	return config.Entry{
		ID:       "john",
		Username: "john@example.com",
		Password: "secret",
		Default:  config.DefaultAccountOptions(),
		Accounts: accounts,
	}
}

func seededAPI() *fakeremote.API {
	api := fakeremote.New()
	balance := decimal.RequireFromString("12.50")
	api.SetAccounts(remote.Account{Code: "100", Balance: &balance}, remote.Account{Code: "200"})
	api.SetMeters("100", remote.Meter{Code: "M1", Zones: map[string]remote.Zone{"t1": {Identifier: "t1"}, "t2": {Identifier: "t2"}}})
	api.SetLastPayment("100", &remote.Payment{Amount: decimal.RequireFromString("500"), TransactionID: "tx-1"})
	return api
}

func keys(e *service.Entry) []string {
	var out []string
	for _, rec := range e.Registry().List() {
		out = append(out, rec.Key())
	}
	return out
}

func TestSetup_NoAccountsFails(t *testing.T) {
	api := fakeremote.New()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)

	err := entry.Setup(context.Background())
	if !errors.Is(err, service.ErrNoAccounts) {
		t.Errorf("Expected ErrNoAccounts, got %v", err)
	}
}

func TestSetup_TracksEveryKind(t *testing.T) {
	api := seededAPI()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)

	if err := entry.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	expected := []string{
		record.AccountKey("100"),
		record.AccountKey("200"),
		record.LastPaymentKey("100"),
		record.LastPaymentKey("200"),
		record.MeterKey("100", "M1"),
	}
	if got := keys(entry); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if api.Calls("Authenticate") != 1 {
		t.Errorf("Expected one authentication, got %d", api.Calls("Authenticate"))
	}
}

func TestSetup_HonorsAccountOptions(t *testing.T) {
	api := seededAPI()
	noMeters := config.DefaultAccountOptions()
	noMeters.Track.Meters = false
	disabled := config.DefaultAccountOptions()
	disabled.Disabled = true

	entry := service.NewEntry(testEntry(map[string]config.AccountOptions{
		"100": noMeters,
		"200": disabled,
	}), api, nil, &captureBus{}, nil, nil)

	if err := entry.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	expected := []string{record.AccountKey("100"), record.LastPaymentKey("100")}
	if got := keys(entry); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if codes := entry.AccountCodes(); !reflect.DeepEqual(codes, []string{"100"}) {
		t.Errorf("Expected only account 100 in scope, got %v", codes)
	}
}

func TestPollAccounts_VanishedAccountCascades(t *testing.T) {
	api := seededAPI()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)
	ctx := context.Background()
	if err := entry.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	meter, _ := entry.Registry().Get(record.MeterKey("100", "M1"))

	api.SetAccounts(remote.Account{Code: "200"})
	if err := entry.PollAccounts(ctx); err != nil {
		t.Fatalf("PollAccounts failed: %v", err)
	}

	expected := []string{record.AccountKey("200"), record.LastPaymentKey("200")}
	if got := keys(entry); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if !meter.Retired() {
		t.Error("Expected meter of vanished account to be retired")
	}
}

func TestPollAccounts_FetchFailureKeepsRecords(t *testing.T) {
	api := seededAPI()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)
	ctx := context.Background()
	if err := entry.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	before := keys(entry)

	api.Fail("ListAccounts", &remote.APIError{Status: 502, Message: "bad gateway"})
	if err := entry.PollAccounts(ctx); !remote.IsAPIError(err) {
		t.Fatalf("Expected API error, got %v", err)
	}

	if got := keys(entry); !reflect.DeepEqual(got, before) {
		t.Errorf("Expected records unchanged, got %v", got)
	}
}

func TestPollMeters_NewMeterRegistered(t *testing.T) {
	api := seededAPI()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)
	ctx := context.Background()
	if err := entry.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	original, _ := entry.Registry().Get(record.MeterKey("100", "M1"))

	api.SetMeters("100",
		remote.Meter{Code: "M1", Status: "checked"},
		remote.Meter{Code: "M2"},
	)
	if err := entry.PollMeters(ctx, "100"); err != nil {
		t.Fatalf("PollMeters failed: %v", err)
	}

	current, err := entry.Registry().Get(record.MeterKey("100", "M1"))
	if err != nil || current != original {
		t.Error("Expected M1 to keep its identity")
	}
	if current.State() != "checked" {
		t.Errorf("Expected refreshed state, got %v", current.State())
	}
	if _, err := entry.Registry().Get(record.MeterKey("100", "M2")); err != nil {
		t.Errorf("Expected M2 registered: %v", err)
	}
}

func TestInvoke_PushIndicationsByRecordKey(t *testing.T) {
	api := seededAPI()
	bus := &captureBus{}
	entry := service.NewEntry(testEntry(nil), api, nil, bus, nil, nil)
	ctx := context.Background()
	if err := entry.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	env, err := entry.Invoke(ctx, service.Invocation{
		Action:      action.KindPushIndications,
		RecordKey:   record.MeterKey("100", "M1"),
		Indications: map[string]any{"t1": 100.0},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !env.Success || env.EntityID != record.MeterKey("100", "M1") {
		t.Errorf("Unexpected envelope %+v", env)
	}
	if bus.events["tns_energo_push_indications"] != 1 {
		t.Errorf("Expected one push event, got %v", bus.events)
	}
}

func TestInvoke_UnknownRecordStillEmits(t *testing.T) {
	api := seededAPI()
	bus := &captureBus{}
	entry := service.NewEntry(testEntry(nil), api, nil, bus, nil, nil)

	_, err := entry.Invoke(context.Background(), service.Invocation{
		Action:    action.KindGetPayments,
		RecordKey: record.AccountKey("999"),
	})
	if err == nil {
		t.Fatal("Expected error for unknown record")
	}
	if bus.events["tns_energo_get_payments"] != 1 || bus.last["success"] != false {
		t.Errorf("Expected one failed event, got %v %v", bus.events, bus.last)
	}
}

func TestUnload_RetiresEverything(t *testing.T) {
	api := seededAPI()
	entry := service.NewEntry(testEntry(nil), api, nil, &captureBus{}, nil, nil)
	ctx := context.Background()
	if err := entry.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	entry.Unload(ctx)

	if got := keys(entry); len(got) != 0 {
		t.Errorf("Expected no records after unload, got %v", got)
	}
}

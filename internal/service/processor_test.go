package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/septivank/utility-sync-worker/internal/record"
	"github.com/septivank/utility-sync-worker/internal/service"
)

func TestProcessMessage_RunsAction(t *testing.T) {
	api := seededAPI()
	bus := &captureBus{}
	entry := service.NewEntry(testEntry(nil), api, nil, bus, nil, nil)
	if err := entry.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	processor := service.NewProcessor([]*service.Entry{entry}, time.UTC, nil)

	body := []byte(`{
		"request_id": "req-1",
		"entry_id": "john",
		"action": "push_indications",
		"record_key": "` + record.MeterKey("100", "M1") + `",
		"indications": "10, 20"
	}`)

	if err := processor.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	submissions := api.SubmissionsSnapshot()
	if len(submissions) != 1 || submissions[0].Values["t2"] != 20 {
		t.Errorf("Unexpected submissions %+v", submissions)
	}
}

func TestProcessMessage_ParsesWindow(t *testing.T) {
	api := seededAPI()
	bus := &captureBus{}
	entry := service.NewEntry(testEntry(nil), api, nil, bus, nil, nil)
	if err := entry.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	processor := service.NewProcessor([]*service.Entry{entry}, time.UTC, nil)

	body := []byte(`{
		"entry_id": "john",
		"action": "get_payments",
		"record_key": "` + record.AccountKey("100") + `",
		"start": "01.01.2025",
		"end": "2025-02-01"
	}`)

	if err := processor.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if bus.last["start"] != "2025-01-01T00:00:00Z" || bus.last["end"] != "2025-02-01T00:00:00Z" {
		t.Errorf("Unexpected window %v - %v", bus.last["start"], bus.last["end"])
	}
}

func TestProcessMessage_Errors(t *testing.T) {
	processor := service.NewProcessor(nil, time.UTC, nil)

	cases := map[string]string{
		"invalid json":  `{`,
		"unknown entry": `{"entry_id": "nobody", "action": "get_payments"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := processor.ProcessMessage(context.Background(), []byte(body)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestProcessMessage_FailedActionReturnsError(t *testing.T) {
	api := seededAPI()
	bus := &captureBus{}
	entry := service.NewEntry(testEntry(nil), api, nil, bus, nil, nil)
	if err := entry.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	processor := service.NewProcessor([]*service.Entry{entry}, time.UTC, nil)

	body := []byte(`{
		"entry_id": "john",
		"action": "push_indications",
		"record_key": "` + record.MeterKey("100", "M1") + `",
		"indications": {"t9": 1}
	}`)

	if err := processor.ProcessMessage(context.Background(), body); err == nil {
		t.Fatal("Expected the validation failure to be returned")
	}
	if bus.events["tns_energo_push_indications"] != 1 {
		t.Errorf("Expected the failure to be published, got %v", bus.events)
	}
}

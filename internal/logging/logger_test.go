package logging_test

import (
	"testing"

	"github.com/septivank/utility-sync-worker/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskUsername(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "j***e@e***m",
		"ab":                   "a***b",
		"x":                    "x",
		"-admin":               "-a***n",
	}

	for input, expected := range cases {
		if got := logging.MaskUsername(input); got != expected {
			t.Errorf("MaskUsername(%q) = %q, expected %q", input, got, expected)
		}
	}
}

func TestWithEntry_MasksUsername(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := logging.WithEntry(zap.New(core), "entry-1", "john@example.com")

	logger.Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["username"] != "j***n@e***m" {
		t.Errorf("Expected masked username, got %v", fields["username"])
	}
	if fields["entry_id"] != "entry-1" {
		t.Errorf("Expected entry_id entry-1, got %v", fields["entry_id"])
	}
}

func TestWithRequestID_EmptyKeepsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := logging.WithRequestID(zap.New(core), "")

	logger.Info("hello")

	if _, ok := logs.All()[0].ContextMap()["request_id"]; ok {
		t.Error("Expected no request_id field for an empty id")
	}
}

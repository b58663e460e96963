package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/septivank/utility-sync-worker/internal/config"
)

func writeEntries(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write entries file: %v", err)
	}
	return path
}

func TestLoadEntries_Defaults(t *testing.T) {
	path := writeEntries(t, `
[[entries]]
username = "John@Example.com"
password = "secret"
`)

	entries, err := config.LoadEntries(path)
	if err != nil {
		t.Fatalf("Failed to load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.ID != "john@example.com" {
		t.Errorf("Expected lowercased username as ID, got %s", entry.ID)
	}
	opts := entry.ForAccount("any")
	if opts.Disabled || !opts.Track.Meters || !opts.Track.LastPayment {
		t.Errorf("Expected everything tracked by default, got %+v", opts)
	}
	if opts.ScanInterval.Meters != config.DefaultScanInterval {
		t.Errorf("Expected default interval, got %s", opts.ScanInterval.Meters)
	}
	if opts.NameFormat.Accounts != config.DefaultNameFormatAccounts {
		t.Errorf("Expected default name format, got %s", opts.NameFormat.Accounts)
	}
}

func TestLoadEntries_AccountOverrides(t *testing.T) {
	path := writeEntries(t, `
[[entries]]
username = "john"
password = "secret"
dev_presentation = true

[entries.default]
last_payment = false
scan_interval = "2h"
name_format = "Acc {code}"

[entries.accounts]
"200" = false

[entries.accounts.100]
meters = false
scan_interval = { accounts = "90m", meters = 120 }
`)

	entries, err := config.LoadEntries(path)
	if err != nil {
		t.Fatalf("Failed to load entries: %v", err)
	}
	entry := entries[0]

	def := entry.ForAccount("300")
	if def.Track.LastPayment {
		t.Error("Expected last payment disabled by default block")
	}
	if !def.DevPresentation {
		t.Error("Expected entry dev_presentation to apply to defaults")
	}
	if def.ScanInterval.LastPayment != 2*time.Hour {
		t.Errorf("Expected single interval to apply to all kinds, got %s", def.ScanInterval.LastPayment)
	}
	if def.NameFormat.Accounts != "Acc {code}" || def.NameFormat.Meters != config.DefaultNameFormatMeters {
		t.Errorf("Unexpected name formats %+v", def.NameFormat)
	}

	if !entry.ForAccount("200").Disabled {
		t.Error("Expected account 200 to be disabled")
	}

	acc := entry.ForAccount("100")
	if acc.Track.Meters {
		t.Error("Expected meters disabled for account 100")
	}
	if acc.Track.LastPayment {
		t.Error("Expected account block to inherit the default block")
	}
	if acc.ScanInterval.Accounts != 90*time.Minute || acc.ScanInterval.Meters != 2*time.Minute {
		t.Errorf("Unexpected intervals %+v", acc.ScanInterval)
	}
	if acc.ScanInterval.LastPayment != 2*time.Hour {
		t.Errorf("Expected unspecified kind to keep inherited interval, got %s", acc.ScanInterval.LastPayment)
	}
}

func TestLoadEntries_AccountList(t *testing.T) {
	path := writeEntries(t, `
[[entries]]
username = "john"
password = "secret"
accounts = ["100", "200"]

[entries.default]
enabled = false
`)

	entries, err := config.LoadEntries(path)
	if err != nil {
		t.Fatalf("Failed to load entries: %v", err)
	}
	if !entries[0].ForAccount("300").Disabled {
		t.Error("Expected unlisted account to follow the disabled default")
	}
	listed := entries[0].ForAccount("100")
	if listed.Disabled {
		t.Error("Expected listed account to be tracked despite the disabled default")
	}
	if !listed.Track.Meters || listed.ScanInterval.Meters != config.DefaultScanInterval {
		t.Errorf("Expected listed account to use fresh defaults, got %+v", listed)
	}
}

func TestLoadEntries_AccountTableWithDisabledDefault(t *testing.T) {
	path := writeEntries(t, `
[[entries]]
username = "john"
password = "secret"
default = false

[entries.accounts.100]
meters = false

[entries.accounts.200]
enabled = false
`)

	entries, err := config.LoadEntries(path)
	if err != nil {
		t.Fatalf("Failed to load entries: %v", err)
	}
	entry := entries[0]

	if !entry.ForAccount("300").Disabled {
		t.Error("Expected unlisted account to follow the disabled default")
	}
	acc := entry.ForAccount("100")
	if acc.Disabled {
		t.Error("Expected account 100 to be tracked")
	}
	if acc.Track.Meters {
		t.Error("Expected meters disabled for account 100")
	}
	if !entry.ForAccount("200").Disabled {
		t.Error("Expected explicit enabled = false to disable account 200")
	}
}

func TestLoadEntries_Validation(t *testing.T) {
	cases := map[string]string{
		"short interval": `
[[entries]]
username = "john"
password = "secret"
[entries.default]
scan_interval = "30s"
`,
		"missing password": `
[[entries]]
username = "john"
`,
		"duplicate username": `
[[entries]]
username = "john"
password = "a"
[[entries]]
username = "JOHN"
password = "b"
`,
		"unknown account key": `
[[entries]]
username = "john"
password = "secret"
[entries.accounts.100]
colour = "red"
`,
		"unknown top-level key": `
mode = "fast"
[[entries]]
username = "john"
password = "secret"
`,
		"no entries": `
# nothing configured
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadEntries(writeEntries(t, content))
			if !errors.Is(err, config.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RABBITMQ_URL", "amqp://localhost")

	if _, err := config.Load(); err == nil {
		t.Error("Expected error when DATABASE_URL is missing")
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	path := writeEntries(t, `
[[entries]]
username = "john"
password = "secret"
`)
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("RABBITMQ_URL", "amqp://localhost")
	t.Setenv("ENTRIES_CONFIG_PATH", path)
	t.Setenv("POLL_TICK_SECONDS", "15")
	t.Setenv("REMOTE_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Poll.Tick != 15*time.Second {
		t.Errorf("Expected tick 15s, got %s", cfg.Poll.Tick)
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout on invalid value, got %s", cfg.Remote.Timeout)
	}
	if len(cfg.Entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(cfg.Entries))
	}
}

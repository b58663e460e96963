// Package host implements the collaborators the synchronization core calls
// back into: the record registry and the event bus.
package host

import (
	"context"
	"errors"

	"github.com/septivank/utility-sync-worker/internal/db"
	"github.com/septivank/utility-sync-worker/internal/record"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already registered under another identity")
)

// Registry receives record lifecycle callbacks from reconciliation
type Registry interface {
	Register(ctx context.Context, key string, rec *record.Tracked, isNew bool) error
	RequestRefresh(ctx context.Context, rec *record.Tracked)
	RequestRemoval(ctx context.Context, rec *record.Tracked) error
}

// EventBus publishes structured outcome events. Publish must not block.
type EventBus interface {
	Publish(ctx context.Context, eventName string, payload map[string]any)
}

// Store persists record snapshots
type Store interface {
	UpsertRecord(ctx context.Context, rec *db.TrackedRecord) error
	DeleteRecord(ctx context.Context, entryID, recordKey string) error
	ReplaceRecords(ctx context.Context, entryID string, records []db.TrackedRecord) error
}

// Presentation returns the display name template and redaction hook for a record
type Presentation func(rec *record.Tracked) (nameFormat string, redact record.Redactor)

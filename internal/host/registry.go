package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/septivank/utility-sync-worker/internal/db"
	"github.com/septivank/utility-sync-worker/internal/record"
	"go.uber.org/zap"
)

// RecordRegistry is the in-process registry of one config entry. Every
// change is mirrored to the store; store failures are logged, never fatal.
type RecordRegistry struct {
	entryID string
	store   Store
	present Presentation
	logger  *zap.Logger

	mu      sync.RWMutex
	records map[string]*record.Tracked
}

var _ Registry = (*RecordRegistry)(nil)

// NewRecordRegistry creates a registry; store and present may be nil
func NewRecordRegistry(entryID string, store Store, present Presentation, logger *zap.Logger) *RecordRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordRegistry{
		entryID: entryID,
		store:   store,
		present: present,
		logger:  logger,
		records: make(map[string]*record.Tracked),
	}
}

// Register adds a record, or re-confirms an existing one
func (r *RecordRegistry) Register(ctx context.Context, key string, rec *record.Tracked, isNew bool) error {
	r.mu.Lock()
	if existing, ok := r.records[key]; ok && existing != rec {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	r.records[key] = rec
	r.mu.Unlock()

	if isNew {
		r.logger.Info("record registered", zap.String("record", key), zap.String("kind", string(rec.Kind())))
	}
	r.persist(ctx, rec)
	return nil
}

// RequestRefresh re-reads an enabled record and persists the result
func (r *RecordRegistry) RequestRefresh(ctx context.Context, rec *record.Tracked) {
	if !rec.Enabled() {
		return
	}

	if err := rec.Refresh(ctx); err != nil {
		if errors.Is(err, record.ErrUnavailable) {
			r.logger.Info("record unavailable upstream", zap.String("record", rec.Key()))
		} else {
			r.logger.Warn("record refresh failed", zap.String("record", rec.Key()), zap.Error(err))
			return
		}
	}
	r.persist(ctx, rec)
}

// RequestRemoval retires a record and forgets it. Removal is acknowledged
// once the record is retired, even if the store could not be updated.
func (r *RecordRegistry) RequestRemoval(ctx context.Context, rec *record.Tracked) error {
	rec.Retire()

	r.mu.Lock()
	if r.records[rec.Key()] == rec {
		delete(r.records, rec.Key())
	}
	r.mu.Unlock()

	r.logger.Info("record removed", zap.String("record", rec.Key()), zap.String("kind", string(rec.Kind())))

	if r.store != nil {
		if err := r.store.DeleteRecord(ctx, r.entryID, rec.Key()); err != nil {
			r.logger.Warn("failed to delete record snapshot", zap.String("record", rec.Key()), zap.Error(err))
		}
	}
	return nil
}

// Reset drops every persisted snapshot of the entry
func (r *RecordRegistry) Reset(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.ReplaceRecords(ctx, r.entryID, nil)
}

// Get returns the registered record for key
func (r *RecordRegistry) Get(key string) (*record.Tracked, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec, nil
}

// List returns all registered records ordered by key
func (r *RecordRegistry) List() []*record.Tracked {
	r.mu.RLock()
	records := make([]*record.Tracked, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key() < records[j].Key() })
	return records
}

// View renders a record the way it is persisted
func (r *RecordRegistry) View(rec *record.Tracked) db.TrackedRecord {
	var (
		nameFormat = "{type} {code}"
		redact     record.Redactor
	)
	if r.present != nil {
		format, hook := r.present(rec)
		if format != "" {
			nameFormat = format
		}
		redact = hook
	}

	state, _ := json.Marshal(rec.State())
	attrs, err := json.Marshal(rec.Attributes(redact))
	if err != nil {
		attrs = []byte("{}")
	}

	return db.TrackedRecord{
		EntryID:     r.entryID,
		RecordKey:   rec.Key(),
		Kind:        string(rec.Kind()),
		AccountCode: rec.AccountCode(),
		Name:        rec.Name(nameFormat),
		State:       state,
		Attributes:  attrs,
		Available:   !rec.Retired() && (rec.Kind() != record.KindMeter || rec.Meter() != nil),
		UpdatedAt:   rec.UpdatedAt(),
	}
}

func (r *RecordRegistry) persist(ctx context.Context, rec *record.Tracked) {
	if r.store == nil {
		return
	}
	view := r.View(rec)
	if err := r.store.UpsertRecord(ctx, &view); err != nil {
		r.logger.Warn("failed to persist record snapshot", zap.String("record", rec.Key()), zap.Error(err))
	}
}

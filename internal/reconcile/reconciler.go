// Package reconcile keeps a keyed set of tracked records in sync with the
// latest list fetched from the remote.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/metrics"
	"github.com/septivank/utility-sync-worker/internal/record"
	"go.uber.org/zap"
)

// Spec parameterizes a Reconciler for one record kind and scope
type Spec[T any] struct {
	Kind  record.Kind
	Scope string

	// Key extracts the record key of a fetched item
	Key func(item T) string
	// Fetch lists the current items through the owning session. It may be
	// nil when items are only supplied through Apply.
	Fetch func(ctx context.Context) ([]T, error)
	// Construct builds a record for an item seen for the first time
	Construct func(ctx context.Context, item T) (*record.Tracked, error)
}

// Changes summarizes one cycle
type Changes struct {
	Added     []string
	Refreshed []string
	Removed   []string
}

// Reconciler owns the key -> record map of one kind within one scope.
// Cycles are serialized; the map is never locked while calling the registry.
type Reconciler[T any] struct {
	spec     Spec[T]
	registry host.Registry
	logger   *zap.Logger

	cycleMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*record.Tracked
}

// New creates a reconciler with an empty record map
func New[T any](spec Spec[T], registry host.Registry, logger *zap.Logger) *Reconciler[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler[T]{
		spec:     spec,
		registry: registry,
		logger:   logger.With(zap.String("kind", string(spec.Kind)), zap.String("scope", spec.Scope)),
		records:  make(map[string]*record.Tracked),
	}
}

// Cycle runs one fetch-and-diff pass. A fetch failure leaves every
// registered record in place and is returned to the caller.
func (r *Reconciler[T]) Cycle(ctx context.Context) (Changes, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.logger.Debug("reconciliation cycle started")

	items, err := r.spec.Fetch(ctx)
	if err != nil {
		metrics.RecordCycle(string(r.spec.Kind), "fetch_failed")
		r.logger.Warn("fetch failed, keeping tracked records", zap.Error(err))
		return Changes{}, fmt.Errorf("fetch %s: %w", r.spec.Kind, err)
	}
	return r.apply(ctx, items), nil
}

// Apply diffs an already fetched list against the tracked records
func (r *Reconciler[T]) Apply(ctx context.Context, items []T) Changes {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.apply(ctx, items)
}

func (r *Reconciler[T]) apply(ctx context.Context, items []T) Changes {
	var changes Changes
	kind := string(r.spec.Kind)

	seen := make(map[string]struct{}, len(items))
	var existing []*record.Tracked

	// New records are registered before any existing record is refreshed
	for _, item := range items {
		key := r.spec.Key(item)
		if _, dup := seen[key]; dup {
			r.logger.Warn("duplicate key in fetched list", zap.String("record", key))
			continue
		}
		seen[key] = struct{}{}

		if rec, ok := r.get(key); ok {
			existing = append(existing, rec)
			continue
		}

		rec, err := r.spec.Construct(ctx, item)
		if err != nil {
			r.logger.Warn("failed to construct record", zap.String("record", key), zap.Error(err))
			continue
		}

		r.mu.Lock()
		r.records[key] = rec
		r.mu.Unlock()

		if err := r.registry.Register(ctx, key, rec, true); err != nil {
			r.mu.Lock()
			delete(r.records, key)
			r.mu.Unlock()
			r.logger.Error("failed to register record", zap.String("record", key), zap.Error(err))
			continue
		}
		changes.Added = append(changes.Added, key)
	}

	for _, rec := range existing {
		if !rec.Enabled() {
			continue
		}
		r.registry.RequestRefresh(ctx, rec)
		changes.Refreshed = append(changes.Refreshed, rec.Key())
	}

	for _, rec := range r.missing(seen) {
		if err := r.registry.RequestRemoval(ctx, rec); err != nil {
			r.logger.Warn("removal not acknowledged", zap.String("record", rec.Key()), zap.Error(err))
			continue
		}
		r.mu.Lock()
		if r.records[rec.Key()] == rec {
			delete(r.records, rec.Key())
		}
		r.mu.Unlock()
		changes.Removed = append(changes.Removed, rec.Key())
	}

	for _, key := range changes.Added {
		r.logger.Info("record added", zap.String("record", key))
	}
	for _, key := range changes.Removed {
		r.logger.Info("record removed upstream", zap.String("record", key))
	}

	metrics.RecordCycle(kind, "ok")
	metrics.RecordChanges(kind, "added", len(changes.Added))
	metrics.RecordChanges(kind, "refreshed", len(changes.Refreshed))
	metrics.RecordChanges(kind, "removed", len(changes.Removed))

	r.logger.Debug("reconciliation cycle finished",
		zap.Int("added", len(changes.Added)),
		zap.Int("refreshed", len(changes.Refreshed)),
		zap.Int("removed", len(changes.Removed)),
	)
	return changes
}

// Retire requests removal of every tracked record, e.g. when the owning
// account disappears or the config entry unloads
func (r *Reconciler[T]) Retire(ctx context.Context) []string {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	var removed []string
	for _, rec := range r.missing(nil) {
		if err := r.registry.RequestRemoval(ctx, rec); err != nil {
			r.logger.Warn("removal not acknowledged", zap.String("record", rec.Key()), zap.Error(err))
			continue
		}
		r.mu.Lock()
		delete(r.records, rec.Key())
		r.mu.Unlock()
		removed = append(removed, rec.Key())
	}
	metrics.RecordChanges(string(r.spec.Kind), "removed", len(removed))
	return removed
}

// Keys returns the tracked keys in order
func (r *Reconciler[T]) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.records))
	for key := range r.records {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Get returns the tracked record for key
func (r *Reconciler[T]) Get(key string) (*record.Tracked, bool) {
	return r.get(key)
}

func (r *Reconciler[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Reconciler[T]) get(key string) (*record.Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	return rec, ok
}

// missing snapshots the records whose keys are not in seen, ordered by key
func (r *Reconciler[T]) missing(seen map[string]struct{}) []*record.Tracked {
	r.mu.RLock()
	var out []*record.Tracked
	for key, rec := range r.records {
		if _, ok := seen[key]; !ok {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Package registry owns the mapping of source id to SourceRecord. A Registry
// is an owned, lifecycle-scoped object: created once per process, populated
// by explicit registration and load calls, and never evicted from.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/knowhook/knowhook-server/internal/sources"
)

// Registry holds registered knowledge sources in insertion order and
// persists interactive registrations to a durable JSON document.
type Registry struct {
	mu      sync.RWMutex // Protects records, order, nextID
	records map[string]sources.SourceRecord
	order   []string
	nextID  int

	store         *documentStore
	defaultFlavor sources.Flavor
}

// Option is a functional option for configuring the Registry
type Option func(*Registry)

// WithDefaultFlavor sets the flavor assigned to sources registered without one.
func WithDefaultFlavor(flavor sources.Flavor) Option {
	return func(r *Registry) {
		r.defaultFlavor = flavor.Normalize()
	}
}

// New creates an empty registry persisting to the durable document at
// storePath.
func New(storePath string, opts ...Option) *Registry {
	r := &Registry{
		records:       make(map[string]sources.SourceRecord),
		nextID:        1,
		store:         newDocumentStore(storePath),
		defaultFlavor: sources.FlavorGeneric,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register validates and adds a new source, assigning the next id. The
// record is merged into the durable document before the in-memory map is
// mutated, so a failed persist leaves the registry unchanged.
func (r *Registry) Register(rec sources.SourceRecord) (string, error) {
	if err := rec.ValidateURL(); err != nil {
		return "", err
	}
	if !rec.Flavor.Valid() {
		return "", fmt.Errorf("%w: %q", sources.ErrInvalidFlavor, rec.Flavor)
	}
	if rec.Flavor == "" {
		rec.Flavor = r.defaultFlavor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := strconv.Itoa(r.nextID)
	rec.ID = id

	if err := r.store.Merge(id, rec.Entry()); err != nil {
		return "", fmt.Errorf("failed to persist source: %w", err)
	}

	r.records[id] = rec
	r.order = append(r.order, id)
	r.nextID++

	slog.Info("Registered knowledge source", "id", id, "url", rec.URL, "flavor", rec.Flavor)
	return id, nil
}

// List returns all registered sources in insertion order. Read-only: the
// registry is never mutated by a listing call.
func (r *Registry) List() []sources.SourceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sources.SourceRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

// Get retrieves a source by id.
func (r *Registry) Get(id string) (sources.SourceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// BulkLoad reads an external source document and merges every entry into the
// in-memory map, overwriting entries with the same id. URL syntax is not
// validated on bulk load. The load is atomic: a structurally invalid
// document leaves the registry unchanged. The durable document is not
// touched. Returns the number of entries merged.
func (r *Registry) BulkLoad(path string) (int, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeLocked(doc)

	slog.Info("Bulk-loaded knowledge sources", "path", path, "count", len(doc))
	return len(doc), nil
}

// CheckStore reports whether the durable document is usable. A missing
// document is a valid empty state; malformed content is not.
func (r *Registry) CheckStore() error {
	_, err := r.store.Load()
	if err != nil && !errors.Is(err, sources.ErrDocumentNotFound) {
		return err
	}
	return nil
}

// EnsureLoaded populates the registry from the durable document once at
// startup. Absence or malformed content is not fatal: the registry simply
// starts with zero sources.
func (r *Registry) EnsureLoaded() {
	if err := r.Reload(); err != nil {
		slog.Warn("Durable source document not loaded, starting empty", "error", err)
	}
}

// Reload replaces in-memory state with the contents of the durable
// document. A missing document yields an empty registry and no error.
func (r *Registry) Reload() error {
	doc, err := r.store.Load()
	if err != nil {
		r.mu.Lock()
		r.records = make(map[string]sources.SourceRecord)
		r.order = nil
		r.nextID = 1
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]sources.SourceRecord, len(doc))
	r.order = nil
	r.nextID = 1
	r.mergeLocked(doc)
	return nil
}

// mergeLocked folds a decoded document into the in-memory map and advances
// the id counter past every numeric id seen. Document keys are ordered
// numerically where possible so reloads reproduce registration order.
// Caller must hold r.mu write lock.
func (r *Registry) mergeLocked(doc map[string]sources.DocumentEntry) {
	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids {
		entry := doc[id]
		if _, exists := r.records[id]; !exists {
			r.order = append(r.order, id)
		}
		r.records[id] = entry.Record(id)

		if n, err := strconv.Atoi(id); err == nil && n >= r.nextID {
			r.nextID = n + 1
		}
	}
}

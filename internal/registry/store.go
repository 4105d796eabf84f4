package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knowhook/knowhook-server/internal/sources"
)

// documentStore persists the source document as a JSON file mapping
// id -> entry. Writes are read-merge-write: the durable document accumulates
// every source ever registered, independent of in-memory state.
type documentStore struct {
	path string
}

func newDocumentStore(path string) *documentStore {
	return &documentStore{path: path}
}

// Load reads and decodes the durable document. A missing file wraps
// sources.ErrDocumentNotFound; undecodable content wraps
// sources.ErrMalformedDocument.
func (s *documentStore) Load() (map[string]sources.DocumentEntry, error) {
	return loadDocument(s.path)
}

// Merge folds one entry into the durable document and rewrites it. The
// current on-disk content is re-read first so entries written by earlier
// process lifetimes are preserved; unreadable content is treated as an
// empty document rather than an error.
func (s *documentStore) Merge(id string, entry sources.DocumentEntry) error {
	doc, err := s.Load()
	if err != nil {
		doc = make(map[string]sources.DocumentEntry)
	}
	doc[id] = entry

	return s.write(doc)
}

// write atomically replaces the durable document.
func (s *documentStore) write(doc map[string]sources.DocumentEntry) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal source document: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary source document: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename source document: %w", err)
	}

	return nil
}

// loadDocument reads and decodes a source document from an arbitrary path.
// Shared by the durable store and bulk-load.
func loadDocument(path string) (map[string]sources.DocumentEntry, error) {
	//nolint:gosec // path comes from configuration or an explicit operation argument
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", sources.ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("failed to read source document %s: %w", path, err)
	}

	var doc map[string]sources.DocumentEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sources.ErrMalformedDocument, path, err)
	}

	for id, entry := range doc {
		if entry.URL == "" {
			return nil, fmt.Errorf("%w: entry %q has no url", sources.ErrMalformedDocument, id)
		}
	}

	return doc, nil
}

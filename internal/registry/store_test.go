package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhook/knowhook-server/internal/sources"
)

func TestDocumentStoreMergeIsReadMergeWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")

	// Seed the document out-of-band, as an earlier process lifetime would.
	seed := `{"1": "https://earlier.example.com/hook"}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := newDocumentStore(path)
	err := store.Merge("2", sources.DocumentEntry{URL: "https://now.example.com/hook"})
	require.NoError(t, err)

	// The durable document is the union of both lifetimes.
	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc, 2)
	assert.Equal(t, "https://earlier.example.com/hook", doc["1"].URL)
	assert.Equal(t, "https://now.example.com/hook", doc["2"].URL)
}

func TestDocumentStoreMergeTreatsCorruptFileAsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	store := newDocumentStore(path)
	err := store.Merge("1", sources.DocumentEntry{URL: "https://example.com/hook"})
	require.NoError(t, err)

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc, 1)
}

func TestDocumentStoreCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "sources.json")
	store := newDocumentStore(path)

	err := store.Merge("1", sources.DocumentEntry{URL: "https://example.com/hook"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Entries are written in object form so descriptions and keys survive.
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "https://example.com/hook", raw["1"]["url"])
}

func TestLoadDocumentErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := loadDocument(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, sources.ErrDocumentNotFound)

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"1": {"description": "urlless"}}`), 0600))
	_, err = loadDocument(badPath)
	assert.ErrorIs(t, err, sources.ErrMalformedDocument)
}

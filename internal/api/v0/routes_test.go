package v0_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/knowhook/knowhook-server/internal/api/v0"
	"github.com/knowhook/knowhook-server/internal/dispatch"
	"github.com/knowhook/knowhook-server/internal/httpclient"
	"github.com/knowhook/knowhook-server/internal/registry"
	"github.com/knowhook/knowhook-server/internal/service"
)

func newTestRouter(t *testing.T) (http.Handler, service.KnowledgeService) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "sources.json"))
	client := httpclient.NewDefaultClient(5 * time.Second)
	disp := dispatch.New(client, dispatch.WithTimeout(2*time.Second))
	svc := service.New(reg, disp, client)
	return v0.Router(svc), svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterSourceEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources", v0.RegisterSourceRequest{
		URL:         "https://kb.example.com/hook",
		Description: "kb",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp v0.RegisterSourceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1", resp.ID)
}

func TestRegisterSourceEndpointRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources", v0.RegisterSourceRequest{
		URL: "no-scheme-here",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp v0.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestRegisterSourceEndpointRejectsBadBody(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/sources", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSourcesEndpointNeverEchoesAPIKeys(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources", v0.RegisterSourceRequest{
		URL:    "https://kb.example.com/hook",
		APIKey: "super-secret-key",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "super-secret-key")

	var resp v0.ListSourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "1", resp.Sources[0].ID)
	assert.Equal(t, "https://kb.example.com/hook", resp.Sources[0].URL)
	assert.Equal(t, "generic", resp.Sources[0].Flavor)
}

func TestQueryEndpointEmptyRegistry(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/query", v0.QueryRequest{Query: "hello"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestQueryEndpointRejectsEmptyText(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/query", v0.QueryRequest{Query: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A caller mistake gets the descriptive message, not a server fault.
	var resp v0.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "query text")
}

func TestLoadSourcesEndpointRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources/load", v0.LoadSourcesRequest{Path: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp v0.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "document path")
}

func TestQueryEndpoint(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"yes"}`))
	}))
	backend.Config.SetKeepAlivesEnabled(false)
	defer backend.Close()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources", v0.RegisterSourceRequest{URL: backend.URL})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/query", v0.QueryRequest{Query: "is it working"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v0.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Result, "Source 1:")
	assert.Contains(t, resp.Result, `"answer": "yes"`)
}

func TestLoadSourcesEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	path := filepath.Join(t.TempDir(), "bootstrap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": "https://a.example.com"}`), 0600))

	rec := doJSON(t, router, http.MethodPost, "/sources/load", v0.LoadSourcesRequest{Path: path})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v0.LoadSourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Loaded)
}

func TestLoadSourcesEndpointMissingDocument(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sources/load", v0.LoadSourcesRequest{
		Path: filepath.Join(t.TempDir(), "absent.json"),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	reg := registry.New(filepath.Join(t.TempDir(), "sources.json"))
	client := httpclient.NewDefaultClient(time.Second)
	svc := service.New(reg, dispatch.New(client), client)
	router := v0.HealthRouter(svc)

	for _, path := range []string{"/health", "/readiness", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

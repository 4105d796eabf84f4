package httpclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhook/knowhook-server/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestDefaultClientPost(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotHeaders http.Header
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer": "42"}`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(0)
	resp, err := client.Post(context.Background(), server.URL,
		[]byte(`{"query": "meaning of life"}`),
		map[string]string{"X-API-Key": "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"answer": "42"}`, string(resp.Body))

	var sent map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, "meaning of life", sent["query"])

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
	assert.Equal(t, "s3cret", gotHeaders.Get("X-API-Key"))
	assert.Equal(t, httpclient.UserAgent, gotHeaders.Get("User-Agent"))
}

func TestDefaultClientPostReturnsNonOKStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "internal server error", status: http.StatusInternalServerError},
		{name: "not found", status: http.StatusNotFound},
		{name: "too many requests", status: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			client := httpclient.NewDefaultClient(0)
			resp, err := client.Post(context.Background(), server.URL, []byte(`{}`), nil)

			// Non-2xx is not an error at this layer.
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "nope", string(resp.Body))
		})
	}
}

func TestDefaultClientPostTransportError(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	server.Close() // Closed server guarantees a connection failure.

	client := httpclient.NewDefaultClient(0)
	_, err := client.Post(context.Background(), server.URL, []byte(`{}`), nil)
	require.Error(t, err)
}

func TestDefaultClientPostTimeout(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(10 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Post(ctx, server.URL, []byte(`{}`), nil)
	require.Error(t, err)
}

func TestDefaultClientPostRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", httpclient.MaxResponseSize+1)))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(0)
	_, err := client.Post(context.Background(), server.URL, []byte(`{}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum allowed size")
}

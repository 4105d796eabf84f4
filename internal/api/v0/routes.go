// Package v0 provides the REST API handlers for the knowledge source
// registry and query dispatch.
package v0

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/knowhook/knowhook-server/internal/service"
	"github.com/knowhook/knowhook-server/internal/sources"
	"github.com/knowhook/knowhook-server/internal/versions"
)

// RegisterSourceRequest is the request body for source registration
type RegisterSourceRequest struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	APIKey      string `json:"apikey,omitempty"`
	Flavor      string `json:"flavor,omitempty"`
}

// RegisterSourceResponse carries the assigned source id
type RegisterSourceResponse struct {
	ID string `json:"id"`
}

// SourceResponse is one registered source. The API key is deliberately
// absent: it is never echoed back to callers.
type SourceResponse struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Flavor      string `json:"flavor"`
}

// ListSourcesResponse is the source listing
type ListSourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
}

// QueryRequest is the request body for a fan-out query
type QueryRequest struct {
	Query     string   `json:"query"`
	SourceIDs []string `json:"source_ids,omitempty"`
	Image     string   `json:"image,omitempty"`
}

// QueryResponse carries the formatted per-source-annotated result
type QueryResponse struct {
	Result string `json:"result"`
}

// LoadSourcesRequest names the external document to bulk-load
type LoadSourcesRequest struct {
	Path string `json:"path"`
}

// LoadSourcesResponse carries the number of entries merged
type LoadSourcesResponse struct {
	Loaded int `json:"loaded"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the knowledge API with dependency injection
type Routes struct {
	service service.KnowledgeService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.KnowledgeService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the knowledge API
func Router(svc service.KnowledgeService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Post("/sources", routes.registerSource)
	r.Get("/sources", routes.listSources)
	r.Post("/sources/load", routes.loadSources)
	r.Post("/query", routes.query)

	return r
}

// registerSource handles POST /api/v0/sources
func (rr *Routes) registerSource(w http.ResponseWriter, r *http.Request) {
	var req RegisterSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := rr.service.RegisterSource(r.Context(), service.RegisterSourceRequest{
		URL:         req.URL,
		Description: req.Description,
		APIKey:      req.APIKey,
		Flavor:      sources.Flavor(req.Flavor),
	})
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}

	rr.writeJSONResponse(w, http.StatusCreated, RegisterSourceResponse{ID: id})
}

// listSources handles GET /api/v0/sources
func (rr *Routes) listSources(w http.ResponseWriter, r *http.Request) {
	recs, err := rr.service.ListSources(r.Context())
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}

	resp := ListSourcesResponse{Sources: make([]SourceResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Sources = append(resp.Sources, SourceResponse{
			ID:          rec.ID,
			URL:         rec.URL,
			Description: rec.Description,
			Flavor:      string(rec.Flavor),
		})
	}

	rr.writeJSONResponse(w, http.StatusOK, resp)
}

// loadSources handles POST /api/v0/sources/load
func (rr *Routes) loadSources(w http.ResponseWriter, r *http.Request) {
	var req LoadSourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	count, err := rr.service.LoadSources(r.Context(), req.Path)
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, LoadSourcesResponse{Loaded: count})
}

// query handles POST /api/v0/query
func (rr *Routes) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := rr.service.Query(r.Context(), service.QueryRequest{
		Text:      req.Query,
		Image:     req.Image,
		SourceIDs: req.SourceIDs,
	})
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, QueryResponse{Result: result})
}

// writeServiceError maps domain errors to HTTP status codes
func (rr *Routes) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sources.ErrInvalidSourceURL),
		errors.Is(err, sources.ErrInvalidFlavor),
		errors.Is(err, sources.ErrMissingRequiredField):
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, sources.ErrDocumentNotFound):
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sources.ErrMalformedDocument):
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, sources.ErrRegistryEmpty):
		rr.writeErrorResponse(w, err.Error(), http.StatusPreconditionFailed)
	default:
		slog.Error("Request failed", "error", err)
		rr.writeErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response with the given status code
func (*Routes) writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, status int) {
	rr.writeJSONResponse(w, status, ErrorResponse{Error: message})
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc service.KnowledgeService) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests
func readinessHandler(svc service.KnowledgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler handles version requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

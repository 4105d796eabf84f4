// Package service provides the business logic for the knowledge server: it
// ties the source registry, the dispatcher, and the result formatter behind
// one interface consumed by the REST and MCP front ends.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/knowhook/knowhook-server/internal/dispatch"
	"github.com/knowhook/knowhook-server/internal/format"
	"github.com/knowhook/knowhook-server/internal/httpclient"
	"github.com/knowhook/knowhook-server/internal/registry"
	"github.com/knowhook/knowhook-server/internal/sources"
)

// RegisterSourceRequest carries the fields for one interactive registration.
type RegisterSourceRequest struct {
	URL         string
	Description string
	APIKey      string
	Flavor      sources.Flavor
}

// QueryRequest carries one query and its optional source selection.
type QueryRequest struct {
	Text      string
	Image     string
	SourceIDs []string
}

// KnowledgeService defines the operations exposed to the front ends
type KnowledgeService interface {
	// CheckReadiness checks if the service is ready to serve requests
	CheckReadiness(ctx context.Context) error

	// RegisterSource validates and registers a new knowledge source,
	// returning its assigned id
	RegisterSource(ctx context.Context, req RegisterSourceRequest) (string, error)

	// ListSources returns all registered sources in insertion order
	ListSources(ctx context.Context) ([]sources.SourceRecord, error)

	// Query dispatches a query to the selected sources and returns the
	// formatted, per-source-annotated result
	Query(ctx context.Context, req QueryRequest) (string, error)

	// LoadSources bulk-loads an external source document, returning the
	// number of entries merged
	LoadSources(ctx context.Context, path string) (int, error)

	// PostQuery sends a one-off query to an arbitrary URL outside the
	// registry and returns a description of the outcome
	PostQuery(ctx context.Context, url string, text string) (string, error)
}

// knowledgeSvc implements the KnowledgeService interface
type knowledgeSvc struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	client     httpclient.Client
}

var _ KnowledgeService = (*knowledgeSvc)(nil)

// New creates a knowledge service over the given registry and dispatcher.
func New(reg *registry.Registry, disp *dispatch.Dispatcher, client httpclient.Client) KnowledgeService {
	return &knowledgeSvc{
		registry:   reg,
		dispatcher: disp,
		client:     client,
	}
}

// CheckReadiness implements KnowledgeService.CheckReadiness
func (s *knowledgeSvc) CheckReadiness(_ context.Context) error {
	// Dispatch failures are per-source data, not readiness. The only thing
	// that can make the service unready is an unusable durable store.
	return s.registry.CheckStore()
}

// RegisterSource implements KnowledgeService.RegisterSource
func (s *knowledgeSvc) RegisterSource(_ context.Context, req RegisterSourceRequest) (string, error) {
	return s.registry.Register(sources.SourceRecord{
		URL:         req.URL,
		Description: req.Description,
		APIKey:      req.APIKey,
		Flavor:      req.Flavor,
	})
}

// ListSources implements KnowledgeService.ListSources
func (s *knowledgeSvc) ListSources(_ context.Context) ([]sources.SourceRecord, error) {
	return s.registry.List(), nil
}

// Query implements KnowledgeService.Query
func (s *knowledgeSvc) Query(ctx context.Context, req QueryRequest) (string, error) {
	if req.Text == "" {
		return "", fmt.Errorf("%w: query text", sources.ErrMissingRequiredField)
	}

	outcomes, err := s.dispatcher.Query(ctx,
		sources.Query{Text: req.Text, Image: req.Image},
		s.registry.List(),
		req.SourceIDs)
	if err != nil {
		return "", err
	}

	return format.Outcomes(outcomes), nil
}

// LoadSources implements KnowledgeService.LoadSources
func (s *knowledgeSvc) LoadSources(_ context.Context, path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: document path", sources.ErrMissingRequiredField)
	}
	return s.registry.BulkLoad(path)
}

// PostQuery implements KnowledgeService.PostQuery
func (s *knowledgeSvc) PostQuery(ctx context.Context, url string, text string) (string, error) {
	rec := sources.SourceRecord{URL: url}
	if err := rec.ValidateURL(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{"query": text})
	if err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}
	resp, err := s.client.Post(ctx, url, payload, nil)
	if err != nil {
		return "", fmt.Errorf("failed to post query: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("Error processing query. Status code: %d, Response: %s",
			resp.StatusCode, resp.Body), nil
	}
	return fmt.Sprintf("Successfully processed query. Response: %s", resp.Body), nil
}

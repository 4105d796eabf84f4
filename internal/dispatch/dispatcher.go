// Package dispatch fans a query out to a selected subset of registered
// knowledge sources, one concurrent HTTP POST per source, and collects
// per-source outcomes in registry insertion order. One source's failure
// never suppresses another source's result.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/knowhook/knowhook-server/internal/httpclient"
	"github.com/knowhook/knowhook-server/internal/sources"
)

const (
	// defaultMaxConcurrency bounds the number of in-flight source requests.
	defaultMaxConcurrency = 8
)

// answerFields are probed, in order, to extract a plain answer from a
// structured n8n response body.
var answerFields = []string{"output", "answer", "text"}

// Dispatcher sends queries to knowledge sources.
type Dispatcher struct {
	client         httpclient.Client
	timeout        time.Duration
	apiKeyHeader   string
	maxConcurrency int
}

// Option is a functional option for configuring the Dispatcher
type Option func(*Dispatcher)

// WithTimeout sets the per-source request timeout. Zero leaves the HTTP
// client's own timeout as the only bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithAPIKeyHeader sets the header name carrying a source's API key.
func WithAPIKeyHeader(header string) Option {
	return func(d *Dispatcher) {
		if header != "" {
			d.apiKeyHeader = header
		}
	}
}

// WithMaxConcurrency bounds the number of concurrent source requests.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrency = n
		}
	}
}

// New creates a dispatcher sending requests through the given client.
func New(client httpclient.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:         client,
		apiKeyHeader:   "X-API-Key",
		maxConcurrency: defaultMaxConcurrency,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Query dispatches the query to the subset of records selected by ids and
// returns one outcome per targeted source, in the records' order. An empty
// ids list targets every record. Ids with no matching record are dropped;
// if that leaves nothing, the dispatcher falls back to every record and
// prepends a warning outcome naming the unknown ids.
//
// Returns sources.ErrRegistryEmpty without issuing any HTTP call when
// records is empty.
func (d *Dispatcher) Query(
	ctx context.Context,
	query sources.Query,
	records []sources.SourceRecord,
	ids []string,
) ([]sources.Outcome, error) {
	if len(records) == 0 {
		return nil, sources.ErrRegistryEmpty
	}

	targets, warning := selectTargets(records, ids)
	outcomes := d.dispatch(ctx, query, targets)

	if warning != nil {
		outcomes = append([]sources.Outcome{*warning}, outcomes...)
	}
	return outcomes, nil
}

// selectTargets filters records by the requested ids, preserving record
// order. A nil warning means the selection was clean.
func selectTargets(records []sources.SourceRecord, ids []string) ([]sources.SourceRecord, *sources.Outcome) {
	if len(ids) == 0 {
		return records, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	targets := make([]sources.SourceRecord, 0, len(ids))
	for _, rec := range records {
		if wanted[rec.ID] {
			targets = append(targets, rec)
		}
	}

	if len(targets) > 0 {
		return targets, nil
	}

	// None of the requested ids exist. Fall back to every source so a
	// typo'd id still gets an answer, and say so in the result.
	warning := &sources.Outcome{
		Status: sources.StatusWarning,
		Message: fmt.Sprintf("no registered source matches ids [%s]; querying all %d sources instead",
			strings.Join(ids, ", "), len(records)),
	}
	return records, warning
}

// dispatch issues one request per target concurrently and collects outcomes
// in target order.
func (d *Dispatcher) dispatch(
	ctx context.Context,
	query sources.Query,
	targets []sources.SourceRecord,
) []sources.Outcome {
	dispatchID := uuid.NewString()
	start := time.Now()

	outcomes := make([]sources.Outcome, len(targets))

	var g errgroup.Group
	g.SetLimit(d.maxConcurrency)
	for i, rec := range targets {
		g.Go(func() error {
			outcomes[i] = d.dispatchOne(ctx, query, rec)
			return nil
		})
	}
	// Structured join: every target produces an outcome before we return.
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Status != sources.StatusOK {
			failed++
		}
	}
	slog.InfoContext(ctx, "Dispatched query",
		"dispatch_id", dispatchID,
		"targets", len(targets),
		"failed", failed,
		"duration", time.Since(start))

	return outcomes
}

// dispatchOne sends the query to a single source and folds any failure into
// the returned outcome.
func (d *Dispatcher) dispatchOne(
	ctx context.Context,
	query sources.Query,
	rec sources.SourceRecord,
) sources.Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	body := map[string]string{
		rec.Flavor.QueryKey(): query.Text,
	}
	if query.Image != "" {
		body["image"] = query.Image
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return sources.Outcome{
			SourceID: rec.ID,
			Status:   sources.StatusTransportError,
			Message:  fmt.Sprintf("failed to encode request: %v", err),
		}
	}

	var headers map[string]string
	if rec.APIKey != "" {
		headers = map[string]string{d.apiKeyHeader: rec.APIKey}
	}

	resp, err := d.client.Post(ctx, rec.URL, payload, headers)
	if err != nil {
		slog.DebugContext(ctx, "Source request failed", "source_id", rec.ID, "error", err)
		return sources.Outcome{
			SourceID: rec.ID,
			Status:   sources.StatusTransportError,
			Message:  err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return sources.Outcome{
			SourceID:   rec.ID,
			Status:     sources.StatusHTTPError,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("source returned status %d", resp.StatusCode),
		}
	}

	outcome := sources.Outcome{
		SourceID:   rec.ID,
		Status:     sources.StatusOK,
		HTTPStatus: resp.StatusCode,
		Body:       resp.Body,
	}

	// n8n chat webhooks wrap the answer in a single well-known field;
	// surface it so the formatter can print the answer directly.
	if rec.Flavor == sources.FlavorN8N && gjson.ValidBytes(resp.Body) {
		for _, field := range answerFields {
			if v := gjson.GetBytes(resp.Body, field); v.Type == gjson.String {
				outcome.Answer = v.String()
				break
			}
		}
	}

	return outcome
}

// Package sources defines the knowledge source data model shared across the
// registry, dispatcher, and front ends: source records, the durable document
// entry format, query/outcome types, and the domain error taxonomy.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Flavor identifies the webhook protocol a source speaks. It determines the
// JSON key carrying the query text in the outbound request body.
type Flavor string

const (
	// FlavorGeneric is the default protocol: the query text is sent under "query".
	FlavorGeneric Flavor = "generic"

	// FlavorN8N targets n8n-style chat webhooks: the query text is sent under
	// "chatInput" and responses typically carry the answer under "output".
	FlavorN8N Flavor = "n8n"
)

// QueryKey returns the JSON body key carrying the query text for this flavor.
func (f Flavor) QueryKey() string {
	if f == FlavorN8N {
		return "chatInput"
	}
	return "query"
}

// Valid reports whether the flavor is one of the known protocol flavors.
// The empty flavor is valid and treated as FlavorGeneric.
func (f Flavor) Valid() bool {
	switch f {
	case "", FlavorGeneric, FlavorN8N:
		return true
	default:
		return false
	}
}

// Normalize maps the empty flavor to FlavorGeneric.
func (f Flavor) Normalize() Flavor {
	if f == "" {
		return FlavorGeneric
	}
	return f
}

var (
	// ErrInvalidSourceURL is returned when a source URL is missing a scheme or host
	ErrInvalidSourceURL = errors.New("invalid source URL")
	// ErrInvalidFlavor is returned when a source names an unknown protocol flavor
	ErrInvalidFlavor = errors.New("invalid source flavor")
	// ErrMissingRequiredField is returned when a required request field is empty
	ErrMissingRequiredField = errors.New("missing required field")
	// ErrDocumentNotFound is returned when a source document path does not exist
	ErrDocumentNotFound = errors.New("source document not found")
	// ErrMalformedDocument is returned when a source document is not a valid id mapping
	ErrMalformedDocument = errors.New("malformed source document")
	// ErrRegistryEmpty is returned when a query is attempted with zero registered sources
	ErrRegistryEmpty = errors.New("no sources registered")
)

// SourceRecord is the unit of registration: one named webhook endpoint
// capable of answering queries.
type SourceRecord struct {
	// ID is the opaque identifier assigned by the registry.
	ID string `json:"-"`

	// URL is the absolute endpoint URL. Validated on interactive
	// registration, accepted as-is on bulk load.
	URL string `json:"url"`

	// Description is free text with no meaning to the engine.
	Description string `json:"description,omitempty"`

	// APIKey, when set, is forwarded as a request header on every dispatch
	// to this source. It is never logged and never echoed to callers.
	APIKey string `json:"apikey,omitempty"`

	// Flavor selects the wire protocol for this source.
	Flavor Flavor `json:"flavor,omitempty"`
}

// ValidateURL checks that the record URL is an absolute URL with a scheme
// and host. Wraps ErrInvalidSourceURL on failure.
func (r *SourceRecord) ValidateURL() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSourceURL, r.URL)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: missing scheme or host: %s", ErrInvalidSourceURL, r.URL)
	}
	return nil
}

// DocumentEntry is one value in a source document (durable store or
// bulk-load input). The document maps id -> entry, where an entry is either
// a bare URL string or an object carrying at least a URL.
type DocumentEntry struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	APIKey      string `json:"apikey,omitempty"`
	Flavor      Flavor `json:"flavor,omitempty"`
}

// UnmarshalJSON accepts both entry shapes: "https://..." and
// {"url": "https://...", ...}.
func (e *DocumentEntry) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		e.URL = bare
		return nil
	}

	type entryObject DocumentEntry
	var obj entryObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("entry must be a URL string or an object with a url field: %w", err)
	}
	*e = DocumentEntry(obj)
	return nil
}

// Record converts a document entry to a SourceRecord with the given id.
func (e *DocumentEntry) Record(id string) SourceRecord {
	return SourceRecord{
		ID:          id,
		URL:         e.URL,
		Description: e.Description,
		APIKey:      e.APIKey,
		Flavor:      e.Flavor.Normalize(),
	}
}

// Entry converts a SourceRecord to its document entry form.
func (r *SourceRecord) Entry() DocumentEntry {
	return DocumentEntry{
		URL:         r.URL,
		Description: r.Description,
		APIKey:      r.APIKey,
		Flavor:      r.Flavor.Normalize(),
	}
}

// Query is one logical question dispatched to a set of sources.
type Query struct {
	// Text is the query text. Required.
	Text string

	// Image is an optional image payload forwarded verbatim as a string
	// field. The engine does not decode or validate it.
	Image string
}

// OutcomeStatus categorizes the per-source result of one dispatch attempt.
type OutcomeStatus string

const (
	// StatusOK marks a 2xx response.
	StatusOK OutcomeStatus = "ok"

	// StatusHTTPError marks a non-2xx response.
	StatusHTTPError OutcomeStatus = "http_error"

	// StatusTransportError marks a connection, DNS, or timeout failure.
	StatusTransportError OutcomeStatus = "transport_error"

	// StatusWarning marks an advisory note emitted by the dispatcher itself,
	// such as the fallback taken when no requested source id exists.
	StatusWarning OutcomeStatus = "warning"
)

// Outcome is the per-source result of one dispatch attempt. Outcomes are
// ephemeral: they are never persisted and live only for one query call.
type Outcome struct {
	// SourceID names the source this outcome belongs to. Empty for
	// dispatcher-level warnings.
	SourceID string `json:"source_id,omitempty"`

	// Status categorizes the outcome.
	Status OutcomeStatus `json:"status"`

	// HTTPStatus carries the response status code for StatusOK and
	// StatusHTTPError outcomes.
	HTTPStatus int `json:"http_status,omitempty"`

	// Body is the raw response body for StatusOK outcomes.
	Body []byte `json:"-"`

	// Answer is a best-effort extraction of the answer field from a
	// structured response body, when the source flavor defines one.
	Answer string `json:"answer,omitempty"`

	// Message describes the failure for error and warning outcomes.
	Message string `json:"message,omitempty"`
}

// Package format renders an ordered list of dispatch outcomes into a single
// text block readable by humans and calling agents alike.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knowhook/knowhook-server/internal/sources"
)

// Outcomes renders one block per outcome, prefixed with its source id, in
// the order the dispatcher returned them. No truncation, no reordering,
// no deduplication.
func Outcomes(outcomes []sources.Outcome) string {
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, formatOne(o))
	}
	return strings.Join(lines, "\n")
}

func formatOne(o sources.Outcome) string {
	switch o.Status {
	case sources.StatusOK:
		return fmt.Sprintf("Source %s: %s", o.SourceID, formatBody(o))
	case sources.StatusHTTPError:
		return fmt.Sprintf("Source %s: request failed with status %d", o.SourceID, o.HTTPStatus)
	case sources.StatusTransportError:
		return fmt.Sprintf("Source %s: request error: %s", o.SourceID, o.Message)
	case sources.StatusWarning:
		return fmt.Sprintf("Warning: %s", o.Message)
	default:
		return fmt.Sprintf("Source %s: %s", o.SourceID, o.Message)
	}
}

// formatBody prefers an extracted answer, then pretty-printed JSON, then
// the raw text.
func formatBody(o sources.Outcome) string {
	if o.Answer != "" {
		return o.Answer
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, o.Body, "", "  "); err == nil {
		return pretty.String()
	}

	return strings.TrimSpace(string(o.Body))
}

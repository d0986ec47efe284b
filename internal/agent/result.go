// Package agent normalizes the analytics backend's protocol variants
// (plain completion, batch agent run, streaming agent run) into one
// Result shape, and owns the retry/timeout policy around every
// outbound call.
package agent

import (
	"encoding/json"
	"fmt"
)

// Mode selects which backend capability handles a prompt.
type Mode string

const (
	// ModeAnalyst routes the prompt through the configured agent-run
	// protocol variant for structured analysis.
	ModeAnalyst Mode = "analyst"

	// ModeSearch routes the prompt to the listing search service.
	ModeSearch Mode = "search"
)

// ParseMode validates a request-supplied mode string. An empty string
// defaults to analyst.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAnalyst:
		return ModeAnalyst, nil
	case ModeSearch:
		return ModeSearch, nil
	default:
		return "", fmt.Errorf("invalid mode %q", s)
	}
}

// QueryTrace records a query revealed by a backend execution trace,
// kept for transparency display in the UI.
type QueryTrace struct {
	Tool string `json:"tool"`
	SQL  string `json:"sql"`
}

// Result is the single normalized answer contract every protocol
// variant produces and the rendering layer consumes. The streaming
// path builds it incrementally, the batch path atomically.
type Result struct {
	// Text is the answer prose.
	Text string `json:"text"`

	// Records holds tabular rows when the backend returned data.
	Records []map[string]any `json:"records,omitempty"`

	// ChartSpec is an opaque backend-produced visualization
	// descriptor, forwarded unmodified.
	ChartSpec json.RawMessage `json:"chartSpec,omitempty"`

	// Thinking holds status and reasoning fragments in arrival order.
	Thinking []string `json:"thinking,omitempty"`

	// ExecutedQueries lists queries surfaced by execution traces,
	// deduplicated by exact query text.
	ExecutedQueries []QueryTrace `json:"executedQueries,omitempty"`
}

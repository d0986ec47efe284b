package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Event is one named server-sent event from the agent stream.
type Event struct {
	Name string
	Data string
}

// Aggregator folds an agent event stream into a Result. It is a
// single-pass, order-dependent fold: Text and Thinking only grow via
// deltas, ExecutedQueries only grows, later charts overwrite earlier
// ones, and the terminal "response" event closes the turn. Replaying
// or reordering events produces a different Result.
type Aggregator struct {
	result  Result
	seenSQL map[string]bool
	done    bool
	err     error
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seenSQL: make(map[string]bool)}
}

// Done reports whether the terminal response event has been seen.
func (a *Aggregator) Done() bool { return a.done }

// Err returns the stream error event, if one arrived.
func (a *Aggregator) Err() error { return a.err }

// Result returns the accumulated result. Valid even after an error:
// partial text is preserved and surfaced rather than discarded.
func (a *Aggregator) Result() *Result {
	r := a.result
	return &r
}

// Apply folds one event into the accumulating result.
func (a *Aggregator) Apply(ev Event) {
	switch ev.Name {
	case "response.status":
		if s := statusLine(ev.Data); s != "" {
			a.result.Thinking = append(a.result.Thinking, s)
		}

	case "response.thinking.delta":
		if s := deltaText(ev.Data); s != "" {
			a.result.Thinking = append(a.result.Thinking, s)
		}

	case "execution_trace":
		a.applyTrace(ev.Data)

	case "response.text.delta":
		a.result.Text += deltaText(ev.Data)

	case "response.chart":
		a.applyChart(ev.Data)

	case "response.table":
		if a.result.Records == nil {
			a.result.Records = parseTable(ev.Data)
		}

	case "response":
		a.applyTerminal(ev.Data)
		a.done = true

	case "error":
		msg := gjson.Get(ev.Data, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(ev.Data)
		}
		if msg == "" {
			msg = "stream error"
		}
		a.err = errors.New(msg)
	}
}

// applyTrace scans each trace entry's attribute list for keys ending
// in "sql_query" or ".query" and records the query once per distinct
// query text.
func (a *Aggregator) applyTrace(data string) {
	entries := gjson.Get(data, "trace.spans")
	if !entries.Exists() {
		entries = gjson.Get(data, "entries")
	}
	if !entries.Exists() {
		if parsed := gjson.Parse(data); parsed.IsArray() {
			entries = parsed
		}
	}
	if !entries.IsArray() {
		return
	}

	entries.ForEach(func(_, entry gjson.Result) bool {
		tool := entry.Get("tool").String()
		if tool == "" {
			tool = entry.Get("name").String()
		}

		record := func(key, value string) {
			if value == "" {
				return
			}
			if !strings.HasSuffix(key, "sql_query") && !strings.HasSuffix(key, ".query") {
				return
			}
			if a.seenSQL[value] {
				return
			}
			a.seenSQL[value] = true
			a.result.ExecutedQueries = append(a.result.ExecutedQueries, QueryTrace{Tool: tool, SQL: value})
		}

		attrs := entry.Get("attributes")
		if attrs.IsArray() {
			attrs.ForEach(func(_, attr gjson.Result) bool {
				record(attr.Get("key").String(), attr.Get("value").String())
				return true
			})
		} else if attrs.IsObject() {
			attrs.ForEach(func(key, value gjson.Result) bool {
				record(key.String(), value.String())
				return true
			})
		}
		return true
	})
}

func (a *Aggregator) applyChart(data string) {
	spec := gjson.Get(data, "chart_spec")
	if !spec.Exists() {
		spec = gjson.Parse(data)
	}
	if spec.Exists() && spec.Raw != "" {
		a.result.ChartSpec = json.RawMessage(spec.Raw)
	}
}

// applyTerminal extracts text and table content from the terminal
// response event when no delta supplied them earlier.
func (a *Aggregator) applyTerminal(data string) {
	if a.result.Text != "" {
		return
	}

	content := gjson.Get(data, "message.content")
	if !content.Exists() {
		content = gjson.Get(data, "content")
	}
	if !content.IsArray() {
		if text := gjson.Get(data, "text"); text.Exists() {
			a.result.Text = text.String()
		}
		return
	}

	var parts []string
	content.ForEach(func(_, chunk gjson.Result) bool {
		switch strings.ToLower(chunk.Get("type").String()) {
		case "text":
			if t := chunk.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		case "table":
			if a.result.Records == nil {
				a.result.Records = parseTable(chunk.Get("table").Raw)
			}
		}
		return true
	})
	a.result.Text = strings.Join(parts, "")
}

// statusLine pulls a human-readable line out of a status event.
func statusLine(data string) string {
	if s := gjson.Get(data, "status_message"); s.Exists() {
		return s.String()
	}
	if s := gjson.Get(data, "status"); s.Exists() {
		return s.String()
	}
	return strings.TrimSpace(data)
}

// deltaText pulls incremental text out of a delta event; raw data is
// accepted for non-JSON payloads.
func deltaText(data string) string {
	if t := gjson.Get(data, "text"); t.Exists() {
		return t.String()
	}
	if gjson.Valid(data) {
		if parsed := gjson.Parse(data); parsed.Type == gjson.String {
			return parsed.String()
		}
		return ""
	}
	return data
}

// parseTable normalizes the two observed tabular payload shapes:
// records as objects, or columns plus row tuples.
func parseTable(data string) []map[string]any {
	if recs := gjson.Get(data, "records"); recs.IsArray() {
		return rowsFromObjects(recs)
	}
	if recs := gjson.Parse(data); recs.IsArray() {
		return rowsFromObjects(recs)
	}

	cols := gjson.Get(data, "columns")
	rows := gjson.Get(data, "rows")
	if !cols.IsArray() || !rows.IsArray() {
		return nil
	}
	var names []string
	cols.ForEach(func(_, c gjson.Result) bool {
		if c.Type == gjson.String {
			names = append(names, c.String())
		} else {
			names = append(names, c.Get("name").String())
		}
		return true
	})

	var out []map[string]any
	rows.ForEach(func(_, row gjson.Result) bool {
		rec := make(map[string]any, len(names))
		row.ForEach(func(i, cell gjson.Result) bool {
			idx := int(i.Int())
			if idx < len(names) {
				rec[names[idx]] = cell.Value()
			}
			return true
		})
		out = append(out, rec)
		return true
	})
	return out
}

func rowsFromObjects(arr gjson.Result) []map[string]any {
	var out []map[string]any
	arr.ForEach(func(_, rec gjson.Result) bool {
		if m, ok := rec.Value().(map[string]any); ok {
			out = append(out, m)
		}
		return true
	})
	return out
}

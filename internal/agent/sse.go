package agent

import (
	"bufio"
	"io"
	"strings"
)

// maxEventSize bounds a single SSE line; table payloads can be large.
const maxEventSize = 1 << 20

// readEvents parses a text/event-stream body and invokes fn for each
// complete event. Multiple data lines within one event are joined with
// newlines. An event without an explicit name is delivered as
// "message", per the SSE default.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var (
		name string
		data []string
	)

	flush := func() error {
		if name == "" && len(data) == 0 {
			return nil
		}
		ev := Event{Name: name, Data: strings.Join(data, "\n")}
		if ev.Name == "" {
			ev.Name = "message"
		}
		name = ""
		data = nil
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// stream closed mid-event
	return flush()
}

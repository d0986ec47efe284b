package agent

import (
	"context"
	"io"
	"net/http"
)

// streamProtocol is the streaming agent-run variant: the same run
// endpoint as batch, answered as a server-sent event sequence that is
// folded into a Result by the Aggregator.
type streamProtocol struct {
	backend *Backend
	rb      *requestBuilder
}

func newStreamProtocol(b *Backend) (*streamProtocol, error) {
	rb, err := newRequestBuilder(b)
	if err != nil {
		return nil, err
	}
	return &streamProtocol{backend: b, rb: rb}, nil
}

func (p *streamProtocol) Name() string { return "stream" }

func (p *streamProtocol) Ask(ctx context.Context, prompt string) (*Result, error) {
	return p.Stream(ctx, prompt, nil)
}

// Stream performs the run and folds the event sequence, invoking fn
// (when non-nil) for every event as it arrives. On failure the partial
// result accumulated so far is returned alongside the error.
func (p *streamProtocol) Stream(ctx context.Context, prompt string, fn func(Event) error) (*Result, error) {
	req, err := p.rb.post(ctx, "/api/v2/cortex/agent:run", agentRunPayload(p.backend, prompt, true), "text/event-stream")
	if err != nil {
		return nil, &CallError{Kind: KindMalformed, Err: err}
	}

	resp, err := p.backend.client().Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, statusError(resp.StatusCode, string(body))
	}

	agg := NewAggregator()
	readErr := readEvents(resp.Body, func(ev Event) error {
		agg.Apply(ev)
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	})

	result := agg.Result()
	switch {
	case readErr != nil:
		return result, wrapTransport(readErr)
	case agg.Err() != nil:
		return result, &CallError{Kind: KindUnavailable, Err: agg.Err()}
	case !agg.Done():
		// closed without a terminal response event
		return result, &CallError{Kind: KindUnavailable, Err: errTruncatedStream}
	}
	return result, nil
}

var errTruncatedStream = &truncatedStreamError{}

type truncatedStreamError struct{}

func (*truncatedStreamError) Error() string { return "event stream closed before terminal response" }

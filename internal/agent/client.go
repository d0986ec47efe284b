package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	// defaultCallTimeout bounds every outbound backend call.
	defaultCallTimeout = 30 * time.Second

	// defaultBaseDelay is the pre-jitter unit of the retry schedule:
	// attempt n waits baseDelay * 2^n, jittered into [0.5, 1.0] of
	// that value.
	defaultBaseDelay = time.Second

	// maxRetries allows 3 attempts total.
	maxRetries = 2
)

// Client produces a normalized Result for a prompt and mode, applying
// the retry and timeout policy around whichever protocol variant is
// configured.
type Client struct {
	protocol Protocol
	search   *searchClient

	timeout   time.Duration
	baseDelay time.Duration
}

// NewClient builds a client for the configured variant.
func NewClient(variant string, backend *Backend) (*Client, error) {
	proto, err := NewProtocol(variant, backend)
	if err != nil {
		return nil, err
	}
	search, err := newSearchClient(backend)
	if err != nil {
		return nil, err
	}
	return &Client{
		protocol:  proto,
		search:    search,
		timeout:   defaultCallTimeout,
		baseDelay: defaultBaseDelay,
	}, nil
}

// Variant returns the configured protocol variant name.
func (c *Client) Variant() string { return c.protocol.Name() }

// Ask resolves the prompt under the retry policy and returns the
// normalized result. The returned error, when non-nil, is always a
// *CallError.
func (c *Client) Ask(ctx context.Context, prompt string, mode Mode) (*Result, error) {
	call := func(cctx context.Context) (*Result, error) {
		if mode == ModeSearch {
			return c.search.Query(cctx, prompt)
		}
		return c.protocol.Ask(cctx, prompt)
	}
	return c.retry(ctx, call)
}

// Stream resolves the prompt while forwarding the normalized event
// sequence through fn. Variants without native streaming have their
// batch result synthesized into events. Retries stop once any event
// has been forwarded: a proxied stream cannot be replayed.
func (c *Client) Stream(ctx context.Context, prompt string, mode Mode, fn func(Event) error) (*Result, error) {
	streamer, ok := c.protocol.(eventStreamer)
	if mode == ModeSearch || !ok {
		result, err := c.Ask(ctx, prompt, mode)
		if err != nil {
			return result, err
		}
		return result, synthesizeEvents(result, fn)
	}

	forwarded := false
	call := func(cctx context.Context) (*Result, error) {
		return streamer.Stream(cctx, prompt, func(ev Event) error {
			forwarded = true
			return fn(ev)
		})
	}
	return c.retry(ctx, func(cctx context.Context) (*Result, error) {
		result, err := call(cctx)
		if err != nil && forwarded {
			return result, backoff.Permanent(asCallError(err))
		}
		return result, err
	})
}

// retry runs the call up to 3 times, retrying only rate-limited,
// unavailable and timeout failures, waiting baseDelay * 2^attempt
// jittered uniformly into [0.5, 1.0] of that value between attempts.
// Each attempt is bounded by the per-call timeout.
func (c *Client) retry(ctx context.Context, call func(context.Context) (*Result, error)) (*Result, error) {
	var (
		result  *Result
		attempt int
	)

	op := func() error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		r, err := call(cctx)
		if r != nil {
			// partial results survive retries and terminal failure
			result = r
		}
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if ok := asPermanent(err, &perm); ok {
			return err
		}

		ce := asCallError(err)
		if !ce.Retryable() {
			return backoff.Permanent(ce)
		}
		log.Warn().
			Int("attempt", attempt).
			Str("kind", string(ce.Kind)).
			Err(ce).
			Msg("retryable backend failure")
		return ce
	}

	// InitialInterval 3/4 of the base with randomization 1/3 spans
	// exactly [0.5, 1.0] of baseDelay, doubling each attempt.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay * 3 / 4
	bo.RandomizationFactor = 1.0 / 3.0
	bo.Multiplier = 2
	bo.MaxInterval = c.baseDelay * 8
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return result, asCallError(unwrapPermanent(err))
	}
	return result, nil
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

func unwrapPermanent(err error) error {
	if pe, ok := err.(*backoff.PermanentError); ok {
		return pe.Err
	}
	return err
}

// synthesizeEvents replays a batch result as the normalized event
// sequence so every variant serves the stream endpoint.
func synthesizeEvents(result *Result, fn func(Event) error) error {
	emit := func(name string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return fn(Event{Name: name, Data: string(data)})
	}

	for _, line := range result.Thinking {
		if err := emit("response.status", map[string]string{"status": line}); err != nil {
			return err
		}
	}
	if result.Text != "" {
		if err := emit("response.text.delta", map[string]string{"text": result.Text}); err != nil {
			return err
		}
	}
	if result.ChartSpec != nil {
		if err := fn(Event{Name: "response.chart", Data: string(result.ChartSpec)}); err != nil {
			return err
		}
	}
	if result.Records != nil {
		if err := emit("response.table", map[string]any{"records": result.Records}); err != nil {
			return err
		}
	}
	return emit("response", map[string]any{
		"content": []map[string]any{{"type": "text", "text": result.Text}},
	})
}

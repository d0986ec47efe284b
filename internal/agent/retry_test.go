package agent

import (
	"context"
	"testing"
	"time"
)

// fakeProtocol fails a scripted number of times before succeeding.
type fakeProtocol struct {
	calls    int
	failures int
	failWith *CallError
}

func (f *fakeProtocol) Name() string { return "fake" }

func (f *fakeProtocol) Ask(ctx context.Context, prompt string) (*Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failWith
	}
	return &Result{Text: "ok"}, nil
}

func newRetryTestClient(proto Protocol) *Client {
	return &Client{
		protocol:  proto,
		timeout:   time.Second,
		baseDelay: 20 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	proto := &fakeProtocol{
		failures: 2,
		failWith: &CallError{Status: 503, Kind: KindUnavailable},
	}
	c := newRetryTestClient(proto)

	start := time.Now()
	result, err := c.Ask(context.Background(), "q", ModeAnalyst)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Ask() error = %v, want success on third attempt", err)
	}
	if result.Text != "ok" {
		t.Errorf("Ask().Text = %q, want ok", result.Text)
	}
	if proto.calls != 3 {
		t.Errorf("attempts = %d, want 3", proto.calls)
	}

	// Two waits of base*2^n jittered into [0.5, 1.0]: total between
	// base*(1+2)*0.5 and base*(1+2)*1.0.
	min := c.baseDelay * 3 / 2
	max := c.baseDelay*3 + 50*time.Millisecond // scheduling slack
	if elapsed < min {
		t.Errorf("elapsed = %v, want at least %v of backoff delay", elapsed, min)
	}
	if elapsed > max {
		t.Errorf("elapsed = %v, want at most %v", elapsed, max)
	}
}

func TestRetryExhaustion(t *testing.T) {
	proto := &fakeProtocol{
		failures: 10,
		failWith: &CallError{Status: 429, Kind: KindRateLimited},
	}
	c := newRetryTestClient(proto)

	_, err := c.Ask(context.Background(), "q", ModeAnalyst)
	if err == nil {
		t.Fatal("Ask() error = nil, want failure after retries exhausted")
	}
	if proto.calls != 3 {
		t.Errorf("attempts = %d, want 3 (2 retries)", proto.calls)
	}

	ce := asCallError(err)
	if ce.Kind != KindRateLimited {
		t.Errorf("error kind = %q, want rate_limited", ce.Kind)
	}
}

func TestAuthFailureNotRetried(t *testing.T) {
	proto := &fakeProtocol{
		failures: 10,
		failWith: &CallError{Status: 401, Kind: KindAuth},
	}
	c := newRetryTestClient(proto)

	start := time.Now()
	_, err := c.Ask(context.Background(), "q", ModeAnalyst)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Ask() error = nil, want auth failure")
	}
	if proto.calls != 1 {
		t.Errorf("attempts = %d, want exactly 1 for auth failure", proto.calls)
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("elapsed = %v, want no backoff delay before propagating", elapsed)
	}

	ce := asCallError(err)
	if ce.HTTPStatus() != 401 {
		t.Errorf("HTTPStatus() = %d, want 401", ce.HTTPStatus())
	}
}

func TestNotFoundAndMalformedNotRetried(t *testing.T) {
	for _, kind := range []Kind{KindNotFound, KindMalformed} {
		proto := &fakeProtocol{failures: 10, failWith: &CallError{Kind: kind}}
		c := newRetryTestClient(proto)

		if _, err := c.Ask(context.Background(), "q", ModeAnalyst); err == nil {
			t.Fatalf("kind %s: Ask() error = nil, want failure", kind)
		}
		if proto.calls != 1 {
			t.Errorf("kind %s: attempts = %d, want 1", kind, proto.calls)
		}
	}
}

func TestCallTimeoutBecomesTimeoutKind(t *testing.T) {
	slow := &slowProtocol{}
	c := &Client{protocol: slow, timeout: 20 * time.Millisecond, baseDelay: time.Millisecond}

	_, err := c.Ask(context.Background(), "q", ModeAnalyst)
	if err == nil {
		t.Fatal("Ask() error = nil, want timeout")
	}
	ce := asCallError(err)
	if ce.Kind != KindTimeout {
		t.Errorf("error kind = %q, want timeout", ce.Kind)
	}
	if ce.HTTPStatus() != 504 {
		t.Errorf("HTTPStatus() = %d, want 504", ce.HTTPStatus())
	}
	if slow.calls != 3 {
		t.Errorf("attempts = %d, want 3 (timeouts are retryable)", slow.calls)
	}
}

type slowProtocol struct {
	calls int
}

func (s *slowProtocol) Name() string { return "slow" }

func (s *slowProtocol) Ask(ctx context.Context, prompt string) (*Result, error) {
	s.calls++
	<-ctx.Done()
	return nil, wrapTransport(ctx.Err())
}

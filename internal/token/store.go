package token

import (
	"context"
	"time"
)

// Entry mirrors a token's claims server-side. The store is the
// authority for consumption: the browser never mutates an Entry.
type Entry struct {
	Credits   int       `json:"credits"`
	Exp       time.Time `json:"exp"`
	Used      int       `json:"used"`
	SessionID string    `json:"session_id"`
}

// Expired reports whether the entry's claim expiry has passed.
func (e *Entry) Expired() bool {
	return time.Now().After(e.Exp)
}

// DenyReason classifies why a Consume call was not granted.
type DenyReason string

const (
	DenyNone      DenyReason = ""
	DenyMissing   DenyReason = "missing"
	DenyExpired   DenyReason = "expired"
	DenyExhausted DenyReason = "exhausted"
)

// Outcome is the result of a Consume call. When Granted, Entry holds
// the post-decrement state (Entry.Credits is the remaining balance).
type Outcome struct {
	Granted bool
	Reason  DenyReason
	Entry   *Entry
}

// Store persists token entries with TTL expiry and tracks which
// checkout sessions have already produced a token.
//
// Consume is a read-check-decrement-write sequence, not an atomic
// compare-and-swap: two concurrent calls against the same token may
// both observe credits=1 before either writes. That bounded
// double-spend (at most one extra grant per token) is an accepted
// limitation of the demo, not worth distributed locking.
type Store interface {
	// Put stores an entry under the token string, evicted after ttl.
	Put(ctx context.Context, tok string, entry Entry, ttl time.Duration) error

	// Get returns the entry for a token, or (nil, nil) when absent or
	// already evicted.
	Get(ctx context.Context, tok string) (*Entry, error)

	// Consume decrements one credit if the entry exists, has credits
	// remaining and has not passed its expiry. On grant the entry is
	// written back with credits-1 and its TTL reset to the time
	// remaining until expiry.
	Consume(ctx context.Context, tok string) (*Outcome, error)

	// GrantSession marks a checkout session as having produced a
	// token. It returns false when the session was already granted,
	// enforcing the one-session-one-token rule.
	GrantSession(ctx context.Context, sessionID string) (bool, error)

	// Close releases store resources.
	Close() error
}

package handlers

import "sync"

// FreeQuota tracks the demo-free allowance. Per-process and
// best-effort: a restart refills it, which is acceptable for a demo
// deployment that explicitly opted out of payment gating.
type FreeQuota struct {
	mu        sync.Mutex
	remaining int
}

// NewFreeQuota creates a quota with the given initial allowance.
func NewFreeQuota(n int) *FreeQuota {
	return &FreeQuota{remaining: n}
}

// Available reports whether at least one free call remains.
func (q *FreeQuota) Available() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining > 0
}

// Take consumes one free call and returns the remaining allowance.
func (q *FreeQuota) Take() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.remaining > 0 {
		q.remaining--
	}
	return q.remaining
}

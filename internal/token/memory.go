package token

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// memoryEntry pairs an Entry with its store-level eviction deadline.
// The claim expiry (Entry.Exp) and the store TTL usually coincide, but
// they are checked independently: the claim decides authorization, the
// TTL decides eviction.
type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore implements Store with in-memory maps. Used for local
// development and tests; production deployments point PROPGATE_DB_PATH
// at a SQLite file instead.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[string]*memoryEntry
	sessions map[string]time.Time

	doneCh chan struct{}
	once   sync.Once
}

// NewMemoryStore creates an in-memory token store and starts a
// background janitor that evicts expired entries once a minute.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tokens:   make(map[string]*memoryEntry),
		sessions: make(map[string]time.Time),
		doneCh:   make(chan struct{}),
	}
	go m.janitor(time.Minute)
	return m
}

func (m *MemoryStore) Put(ctx context.Context, tok string, entry Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok] = &memoryEntry{entry: entry, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tok string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.tokens[tok]
	if !ok {
		return nil, nil
	}
	if time.Now().After(me.expiresAt) {
		delete(m.tokens, tok)
		return nil, nil
	}
	cp := me.entry
	return &cp, nil
}

func (m *MemoryStore) Consume(ctx context.Context, tok string) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	me, ok := m.tokens[tok]
	if !ok || now.After(me.expiresAt) {
		return &Outcome{Reason: DenyMissing}, nil
	}
	if me.entry.Credits <= 0 {
		cp := me.entry
		return &Outcome{Reason: DenyExhausted, Entry: &cp}, nil
	}
	if now.After(me.entry.Exp) {
		cp := me.entry
		return &Outcome{Reason: DenyExpired, Entry: &cp}, nil
	}

	me.entry.Credits--
	me.entry.Used++
	me.expiresAt = me.entry.Exp

	cp := me.entry
	return &Outcome{Granted: true, Entry: &cp}, nil
}

func (m *MemoryStore) GrantSession(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return false, nil
	}
	m.sessions[sessionID] = time.Now()
	return true, nil
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.doneCh) })
	return nil
}

// janitor evicts expired token entries periodically so the map does
// not grow without bound between requests.
func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	evicted := 0
	for tok, me := range m.tokens {
		if now.After(me.expiresAt) {
			delete(m.tokens, tok)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("token janitor sweep")
	}
}

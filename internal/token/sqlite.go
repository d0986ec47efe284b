package token

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file. Expired rows
// are filtered on read and purged opportunistically on write, which
// keeps the file bounded without a background goroutine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the token database at
// dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_tokens (
			token TEXT PRIMARY KEY,
			credits INTEGER NOT NULL,
			exp INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_tokens_expires ON usage_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS session_grants (
			session_id TEXT PRIMARY KEY,
			granted_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, tok string, entry Entry, ttl time.Duration) error {
	now := time.Now()
	// Opportunistic purge keeps the table from accumulating dead rows.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_tokens WHERE expires_at < ?", now.Unix()); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO usage_tokens (token, credits, exp, used, session_id, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tok, entry.Credits, entry.Exp.Unix(), entry.Used, entry.SessionID, now.Add(ttl).Unix())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, tok string) (*Entry, error) {
	var (
		entry     Entry
		expUnix   int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT credits, exp, used, session_id, expires_at FROM usage_tokens WHERE token = ?",
		tok).Scan(&entry.Credits, &expUnix, &entry.Used, &entry.SessionID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > expiresAt {
		return nil, nil
	}
	entry.Exp = time.Unix(expUnix, 0)
	return &entry, nil
}

func (s *SQLiteStore) Consume(ctx context.Context, tok string) (*Outcome, error) {
	// Read-check-decrement-write, mirroring the store contract. The
	// decrement is not fenced against a concurrent Consume of the same
	// token; the bounded double-spend is accepted (see Store).
	entry, err := s.Get(ctx, tok)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &Outcome{Reason: DenyMissing}, nil
	}
	if entry.Credits <= 0 {
		return &Outcome{Reason: DenyExhausted, Entry: entry}, nil
	}
	now := time.Now()
	if now.After(entry.Exp) {
		return &Outcome{Reason: DenyExpired, Entry: entry}, nil
	}

	entry.Credits--
	entry.Used++
	_, err = s.db.ExecContext(ctx,
		"UPDATE usage_tokens SET credits = ?, used = ?, expires_at = ? WHERE token = ?",
		entry.Credits, entry.Used, entry.Exp.Unix(), tok)
	if err != nil {
		return nil, err
	}
	return &Outcome{Granted: true, Entry: entry}, nil
}

func (s *SQLiteStore) GrantSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO session_grants (session_id, granted_at) VALUES (?, ?)",
		sessionID, time.Now().Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

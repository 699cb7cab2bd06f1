// Package session persists webhook conversations in SQLite so that repeat
// callers can continue a conversation across requests.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Session is one stored conversation. ChannelID names the inbound channel
// that opened it, "webchat" for the webhook route.
type Session struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredMessage is one turn of a stored conversation.
type StoredMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store persists sessions and their messages in SQLite. It uses WAL mode
// with a single writer connection, the only safe configuration for SQLite.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	closeOnce sync.Once

	createStmt    *sql.Stmt
	touchStmt     *sql.Stmt
	existsStmt    *sql.Stmt
	addMsgStmt    *sql.Stmt
	historyStmt   *sql.Stmt
	msgCountStmt  *sql.Stmt
	pruneStmt     *sql.Stmt
	pruneMsgsStmt *sql.Stmt
	countSessStmt *sql.Stmt
	countMsgsStmt *sql.Stmt
}

// Open opens (creating if needed) the session database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	stmts := []struct {
		dst  **sql.Stmt
		name string
		sql  string
	}{
		{&s.createStmt, "create", `INSERT INTO sessions (id, channel_id, created_at, updated_at) VALUES (?, ?, ?, ?)`},
		{&s.touchStmt, "touch", `UPDATE sessions SET updated_at = ? WHERE id = ?`},
		{&s.existsStmt, "exists", `SELECT 1 FROM sessions WHERE id = ?`},
		{&s.addMsgStmt, "add message", `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`},
		{&s.historyStmt, "history", `SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`},
		{&s.msgCountStmt, "message count", `SELECT COUNT(*) FROM messages WHERE session_id = ?`},
		{&s.pruneStmt, "prune", `DELETE FROM sessions WHERE updated_at < ?`},
		{&s.pruneMsgsStmt, "prune messages", `DELETE FROM messages WHERE session_id NOT IN (SELECT id FROM sessions)`},
		{&s.countSessStmt, "count sessions", `SELECT COUNT(*) FROM sessions`},
		{&s.countMsgsStmt, "count messages", `SELECT COUNT(*) FROM messages`},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.sql)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.dst = prepared
	}
	return nil
}

// Create starts a new session on the named channel and returns its id.
func (s *Store) Create(ctx context.Context, channelID string) (string, error) {
	id := uuid.NewString()
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.createStmt.ExecContext(ctx, id, channelID, now, now); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// Exists reports whether a session id is known.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.existsStmt.QueryRowContext(ctx, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return true, nil
}

// AddMessage appends a message to a session and bumps its updated_at.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) error {
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.addMsgStmt.ExecContext(ctx, sessionID, role, content, now); err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	if _, err := s.touchStmt.ExecContext(ctx, now, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DefaultHistoryLimit bounds History when the caller passes limit <= 0.
const DefaultHistoryLimit = 50

// History returns the session's most recent messages, at most limit of them,
// in insertion order.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.historyStmt.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var (
			msg       StoredMessage
			createdAt int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.msgCountStmt.QueryRowContext(ctx, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// CountSessions returns the total number of stored sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.countSessStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// CountMessages returns the total number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.countMsgsStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Prune removes sessions idle since before cutoff, plus their messages.
// It returns the number of sessions removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.pruneStmt.ExecContext(ctx, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	// Foreign keys are not enforced by default; sweep orphans explicitly.
	if _, err := s.pruneMsgsStmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases the database. Close is idempotent.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			s.createStmt, s.touchStmt, s.existsStmt, s.addMsgStmt,
			s.historyStmt, s.msgCountStmt, s.pruneStmt, s.pruneMsgsStmt,
			s.countSessStmt, s.countMsgsStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})
	return closeErr
}

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gate4ai/mcpcore/shared"

	_ "modernc.org/sqlite"
)

var (
	_ Storage    = (*SQLiteStorage)(nil)
	_ EventStore = (*SQLiteStorage)(nil)
)

// SQLiteStorage implements both Storage and EventStore against an embedded,
// pure-Go SQLite database (modernc.org/sqlite, no cgo) — the single-process,
// restart-surviving single-instance deployment between MemoryStorage
// and a shared server database.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	s := &SQLiteStorage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status INTEGER NOT NULL,
			negotiated_version TEXT NOT NULL DEFAULT '',
			client_name TEXT NOT NULL DEFAULT '',
			client_version TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			session_id TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (session_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_event_counters (
			session_id TEXT PRIMARY KEY,
			counter INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, negotiated_version, client_name, client_version, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, status=excluded.status, negotiated_version=excluded.negotiated_version,
			client_name=excluded.client_name, client_version=excluded.client_version, last_activity=excluded.last_activity
	`, rec.ID, rec.UserID, int(rec.Status), rec.NegotiatedVersion, rec.ClientName, rec.ClientVersion, rec.CreatedAt.Unix(), rec.LastActivity.Unix())
	return err
}

func (s *SQLiteStorage) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, status, negotiated_version, client_name, client_version, created_at, last_activity FROM sessions WHERE id = ?`, id)
	return scanSessionRow(row)
}

func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ExpireOlderThan(ctx context.Context, cutoffUnixSeconds int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_activity < ?`, cutoffUnixSeconds)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, cutoffUnixSeconds); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanSessionRow(row *sql.Row) (Record, error) {
	var rec Record
	var status int
	var createdAt, lastActivity int64
	err := row.Scan(&rec.ID, &rec.UserID, &status, &rec.NegotiatedVersion, &rec.ClientName, &rec.ClientVersion, &createdAt, &lastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrSessionNotFound
		}
		return Record{}, err
	}
	rec.Status = shared.SessionStatus(status)
	rec.CreatedAt = unixToTime(createdAt)
	rec.LastActivity = unixToTime(lastActivity)
	return rec, nil
}

// --- EventStore ---

func (s *SQLiteStorage) PutEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var counter int64
	err = tx.QueryRowContext(ctx, `SELECT counter FROM session_event_counters WHERE session_id = ?`, sessionID).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		counter = 0
	} else if err != nil {
		return 0, err
	}
	counter++

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_event_counters (session_id, counter) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET counter=excluded.counter
	`, sessionID, counter); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_events (session_id, event_id, data) VALUES (?, ?, ?)`, sessionID, counter, data); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(counter), nil
}

func (s *SQLiteStorage) GetEventsAfter(ctx context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, data FROM session_events WHERE session_id = ? AND event_id > ? ORDER BY event_id ASC`, sessionID, afterEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(sessionID, rows)
}

func (s *SQLiteStorage) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, data FROM session_events WHERE session_id = ? ORDER BY event_id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := scanEventRows(sessionID, rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *SQLiteStorage) CleanupExpired(ctx context.Context, sessionIDs []string) error {
	for _, id := range sessionIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_events WHERE session_id = ?`, id); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_event_counters WHERE session_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func scanEventRows(sessionID string, rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		ev.SessionID = sessionID
		if err := rows.Scan(&ev.EventID, &ev.Data); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

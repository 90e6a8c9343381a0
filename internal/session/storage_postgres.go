package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gate4ai/mcpcore/shared"

	_ "github.com/lib/pq"
)

var (
	_ Storage    = (*PostgresStorage)(nil)
	_ EventStore = (*PostgresStorage)(nil)
)

// PostgresStorage implements Storage and EventStore against a shared
// Postgres database, the multi-instance deployment case: every
// server process behind a load balancer observes the same sessions and the
// same event journal, so a GET reconnect can land on a different instance
// than the one that handled the original POST.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &PostgresStorage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mcp_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status INTEGER NOT NULL,
			negotiated_version TEXT NOT NULL DEFAULT '',
			client_name TEXT NOT NULL DEFAULT '',
			client_version TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			last_activity BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_session_events (
			session_id TEXT NOT NULL,
			event_id BIGINT NOT NULL,
			data BYTEA NOT NULL,
			PRIMARY KEY (session_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_session_event_counters (
			session_id TEXT PRIMARY KEY,
			counter BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Close() error { return s.db.Close() }

func (s *PostgresStorage) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_sessions (id, user_id, status, negotiated_version, client_name, client_version, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id=excluded.user_id, status=excluded.status, negotiated_version=excluded.negotiated_version,
			client_name=excluded.client_name, client_version=excluded.client_version, last_activity=excluded.last_activity
	`, rec.ID, rec.UserID, int(rec.Status), rec.NegotiatedVersion, rec.ClientName, rec.ClientVersion, rec.CreatedAt.Unix(), rec.LastActivity.Unix())
	return err
}

func (s *PostgresStorage) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, status, negotiated_version, client_name, client_version, created_at, last_activity FROM mcp_sessions WHERE id = $1`, id)
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

func (s *PostgresStorage) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_sessions WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) ExpireOlderThan(ctx context.Context, cutoffUnixSeconds int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM mcp_sessions WHERE last_activity < $1 RETURNING id`, cutoffUnixSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- EventStore ---

func (s *PostgresStorage) PutEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var counter int64
	row := tx.QueryRowContext(ctx, `
		INSERT INTO mcp_session_event_counters (session_id, counter) VALUES ($1, 1)
		ON CONFLICT (session_id) DO UPDATE SET counter = mcp_session_event_counters.counter + 1
		RETURNING counter
	`, sessionID)
	if err := row.Scan(&counter); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO mcp_session_events (session_id, event_id, data) VALUES ($1, $2, $3)`, sessionID, counter, data); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(counter), nil
}

func (s *PostgresStorage) GetEventsAfter(ctx context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, data FROM mcp_session_events WHERE session_id = $1 AND event_id > $2 ORDER BY event_id ASC`, sessionID, afterEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGEventRows(sessionID, rows)
}

func (s *PostgresStorage) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, data FROM mcp_session_events WHERE session_id = $1 ORDER BY event_id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := scanPGEventRows(sessionID, rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *PostgresStorage) CleanupExpired(ctx context.Context, sessionIDs []string) error {
	for _, id := range sessionIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_session_events WHERE session_id = $1`, id); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_session_event_counters WHERE session_id = $1`, id); err != nil {
			return err
		}
	}
	return nil
}

func scanPGEventRows(sessionID string, rows *sql.Rows) ([]StoredEvent, error) {
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

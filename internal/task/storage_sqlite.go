package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	_ "modernc.org/sqlite"
)

var _ Storage = (*SQLiteStorage)(nil)

// SQLiteStorage implements Storage against an embedded, pure-Go SQLite
// database (modernc.org/sqlite), sharing the restart-surviving single-process
// deployment tier as the matching session storage backend.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStorage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			result_json TEXT,
			created_at INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL,
			ttl_ms INTEGER NOT NULL DEFAULT 0,
			poll_interval_ms INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlite task migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) CreateTask(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, rec.ToolName, string(rec.Status), rec.StatusMessage,
		rec.CreatedAt.Unix(), rec.LastUpdatedAt.Unix(), rec.TTL.Milliseconds(), rec.PollInterval.Milliseconds())
	return err
}

func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

func (s *SQLiteStorage) UpdateStatus(ctx context.Context, id string, status schema.TaskStatus, statusMessage string) error {
	rec, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, status_message = ?, last_updated_at = ? WHERE id = ?`,
		string(status), statusMessage, time.Now().Unix(), id)
	return err
}

func (s *SQLiteStorage) StoreResult(ctx context.Context, id string, status schema.TaskStatus, result schema.TaskResult) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, status_message = ?, result_json = ?, last_updated_at = ? WHERE id = ?`,
		string(status), resultStatusMessage(result), string(data), time.Now().Unix(), id)
	return err
}

func (s *SQLiteStorage) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ListTasks(ctx context.Context, cursor string, limit int) ([]Record, string, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM tasks`)
	if err != nil {
		return nil, "", err
	}
	return paginate(sortRecords(recs), cursor, limit)
}

func (s *SQLiteStorage) ListTasksForSession(ctx context.Context, sessionID string, cursor string, limit int) ([]Record, string, error) {
	recs, err := s.queryRows(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM tasks WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, "", err
	}
	return paginate(sortRecords(recs), cursor, limit)
}

func (s *SQLiteStorage) ExpireTasks(ctx context.Context, now time.Time) ([]string, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM tasks`)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, rec := range recs {
		if rec.Status.IsTerminal() || rec.TTL <= 0 {
			continue
		}
		if rec.LastUpdatedAt.Add(rec.TTL).Before(now) {
			expired = append(expired, rec.ID)
		}
	}
	for _, id := range expired {
		if err := s.DeleteTask(ctx, id); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

func (s *SQLiteStorage) RecoverStuckTasks(ctx context.Context, cutoff time.Time) ([]Record, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM tasks`)
	if err != nil {
		return nil, err
	}
	var stuck []Record
	for _, rec := range recs {
		if !rec.Status.IsTerminal() && rec.LastUpdatedAt.Before(cutoff) {
			stuck = append(stuck, rec)
		}
	}
	return sortRecords(stuck), nil
}

func (s *SQLiteStorage) queryAll(ctx context.Context, query string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (s *SQLiteStorage) queryRows(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRow(row *sql.Row) (Record, error) {
	var rec Record
	var status string
	var resultJSON sql.NullString
	var createdAt, lastUpdatedAt, ttlMs, pollMs int64
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ToolName, &status, &rec.StatusMessage, &resultJSON, &createdAt, &lastUpdatedAt, &ttlMs, &pollMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return buildRecord(rec, status, resultJSON, createdAt, lastUpdatedAt, ttlMs, pollMs)
}

func scanTaskRows(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var status string
		var resultJSON sql.NullString
		var createdAt, lastUpdatedAt, ttlMs, pollMs int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ToolName, &status, &rec.StatusMessage, &resultJSON, &createdAt, &lastUpdatedAt, &ttlMs, &pollMs); err != nil {
			return nil, err
		}
		built, err := buildRecord(rec, status, resultJSON, createdAt, lastUpdatedAt, ttlMs, pollMs)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, rows.Err()
}

func buildRecord(rec Record, status string, resultJSON sql.NullString, createdAt, lastUpdatedAt, ttlMs, pollMs int64) (Record, error) {
	rec.Status = schema.TaskStatus(status)
	rec.CreatedAt = unixToTime(createdAt)
	rec.LastUpdatedAt = unixToTime(lastUpdatedAt)
	rec.TTL = time.Duration(ttlMs) * time.Millisecond
	rec.PollInterval = time.Duration(pollMs) * time.Millisecond
	if resultJSON.Valid && resultJSON.String != "" {
		var result schema.TaskResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return Record{}, err
		}
		rec.Result = &result
	}
	return rec, nil
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

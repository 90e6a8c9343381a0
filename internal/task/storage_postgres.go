package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	_ "github.com/lib/pq"
)

var _ Storage = (*PostgresStorage)(nil)

// PostgresStorage implements Storage against a shared Postgres database,
// for deployments with more than one server process sharing task state.
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
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mcp_tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			result_json TEXT,
			created_at BIGINT NOT NULL,
			last_updated_at BIGINT NOT NULL,
			ttl_ms BIGINT NOT NULL DEFAULT 0,
			poll_interval_ms BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres task migrate: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error { return s.db.Close() }

func (s *PostgresStorage) CreateTask(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_tasks (id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9)
	`, rec.ID, rec.SessionID, rec.ToolName, string(rec.Status), rec.StatusMessage,
		rec.CreatedAt.Unix(), rec.LastUpdatedAt.Unix(), rec.TTL.Milliseconds(), rec.PollInterval.Milliseconds())
	return err
}

func (s *PostgresStorage) GetTask(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM mcp_tasks WHERE id = $1`, id)
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

func (s *PostgresStorage) UpdateStatus(ctx context.Context, id string, status schema.TaskStatus, statusMessage string) error {
	rec, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	_, err = s.db.ExecContext(ctx, `UPDATE mcp_tasks SET status = $1, status_message = $2, last_updated_at = $3 WHERE id = $4`,
		string(status), statusMessage, time.Now().Unix(), id)
	return err
}

func (s *PostgresStorage) StoreResult(ctx context.Context, id string, status schema.TaskStatus, result schema.TaskResult) error {
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
	_, err = s.db.ExecContext(ctx, `UPDATE mcp_tasks SET status = $1, status_message = $2, result_json = $3, last_updated_at = $4 WHERE id = $5`,
		string(status), resultStatusMessage(result), string(data), time.Now().Unix(), id)
	return err
}

func (s *PostgresStorage) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_tasks WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) ListTasks(ctx context.Context, cursor string, limit int) ([]Record, string, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM mcp_tasks`)
	if err != nil {
		return nil, "", err
	}
	return paginate(sortRecords(recs), cursor, limit)
}

func (s *PostgresStorage) ListTasksForSession(ctx context.Context, sessionID string, cursor string, limit int) ([]Record, string, error) {
	recs, err := s.queryRows(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM mcp_tasks WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, "", err
	}
	return paginate(sortRecords(recs), cursor, limit)
}

func (s *PostgresStorage) ExpireTasks(ctx context.Context, now time.Time) ([]string, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM mcp_tasks`)
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

func (s *PostgresStorage) RecoverStuckTasks(ctx context.Context, cutoff time.Time) ([]Record, error) {
	recs, err := s.queryAll(ctx, `SELECT id, session_id, tool_name, status, status_message, result_json, created_at, last_updated_at, ttl_ms, poll_interval_ms FROM mcp_tasks`)
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

func (s *PostgresStorage) queryAll(ctx context.Context, query string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGTaskRows(rows)
}

func (s *PostgresStorage) queryRows(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGTaskRows(rows)
}

func scanPGTaskRows(rows *sql.Rows) ([]Record, error) {
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

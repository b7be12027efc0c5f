package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLRecorder persists entries as rows in an audit_log table.
type MySQLRecorder struct {
	db *sql.DB
}

// NewMySQLRecorder connects to MySQL using the given DSN and ensures
// the schema exists.
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	r := &MySQLRecorder{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *MySQLRecorder) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(36) PRIMARY KEY,
		ts BIGINT NOT NULL,
		plugin_id VARCHAR(191) NOT NULL,
		method VARCHAR(128) NOT NULL,
		user_id VARCHAR(128) NOT NULL DEFAULT '',
		args TEXT,
		context TEXT,
		success TINYINT(1) NOT NULL,
		error_kind VARCHAR(32) NOT NULL DEFAULT '',
		error TEXT,
		elapsed_ns BIGINT NOT NULL DEFAULT 0,
		memory_bytes BIGINT NOT NULL DEFAULT 0,
		instructions BIGINT NOT NULL DEFAULT 0,
		worker_id INT NOT NULL DEFAULT 0,
		logs TEXT,
		INDEX idx_audit_plugin (plugin_id),
		INDEX idx_audit_ts (ts)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit_log: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (r *MySQLRecorder) Record(ctx context.Context, e *Entry) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("encode audit args: %w", err)
	}
	snapshot, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("encode audit context: %w", err)
	}
	logs, err := json.Marshal(e.Logs)
	if err != nil {
		return fmt.Errorf("encode audit logs: %w", err)
	}

	query := `INSERT INTO audit_log (id, ts, plugin_id, method, user_id,
		args, context, success, error_kind, error, elapsed_ns,
		memory_bytes, instructions, worker_id, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UnixNano(), e.PluginID, e.Method, e.UserID,
		string(args), string(snapshot), e.Success, e.ErrorKind, e.Error,
		int64(e.Elapsed), e.MemoryBytes, e.Instructions, e.WorkerID,
		string(logs))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a plugin, newest first. An
// empty pluginID returns entries for all plugins.
func (r *MySQLRecorder) Recent(ctx context.Context, pluginID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, ts, plugin_id, method, user_id, args, context,
		success, error_kind, error, elapsed_ns, memory_bytes,
		instructions, worker_id, logs FROM audit_log`
	queryArgs := []interface{}{}
	if pluginID != "" {
		query += " WHERE plugin_id = ?"
		queryArgs = append(queryArgs, pluginID)
	}
	query += " ORDER BY ts DESC LIMIT ?"
	queryArgs = append(queryArgs, limit)

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e           Entry
			ts          int64
			elapsed     int64
			argsJSON    sql.NullString
			contextJSON sql.NullString
			errText     sql.NullString
			logsJSON    sql.NullString
		)
		err := rows.Scan(&e.ID, &ts, &e.PluginID, &e.Method, &e.UserID,
			&argsJSON, &contextJSON, &e.Success, &e.ErrorKind, &errText,
			&elapsed, &e.MemoryBytes, &e.Instructions, &e.WorkerID,
			&logsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Timestamp = time.Unix(0, ts)
		e.Elapsed = time.Duration(elapsed)
		e.Error = errText.String
		if argsJSON.Valid && argsJSON.String != "" {
			if err := json.Unmarshal([]byte(argsJSON.String), &e.Args); err != nil {
				return nil, fmt.Errorf("decode audit args: %w", err)
			}
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
				return nil, fmt.Errorf("decode audit context: %w", err)
			}
		}
		if logsJSON.Valid && logsJSON.String != "" {
			if err := json.Unmarshal([]byte(logsJSON.String), &e.Logs); err != nil {
				return nil, fmt.Errorf("decode audit logs: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (r *MySQLRecorder) Close() error {
	return r.db.Close()
}

var _ Recorder = (*MySQLRecorder)(nil)

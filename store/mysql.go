package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dshills/warden"
)

// MySQLCatalog persists plugin records in MySQL.
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog connects to MySQL using the given DSN and ensures the
// schema exists.
func NewMySQLCatalog(dsn string) (*MySQLCatalog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql: %v", warden.ErrStorageFailure, err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping mysql: %v", warden.ErrStorageFailure, err)
	}

	c := &MySQLCatalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *MySQLCatalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plugin_records (
		id VARCHAR(191) PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		version VARCHAR(32) NOT NULL,
		manifest TEXT NOT NULL,
		checksum VARCHAR(80) NOT NULL,
		artifact_path VARCHAR(512) NOT NULL DEFAULT '',
		allowed_domains TEXT,
		status VARCHAR(16) NOT NULL,
		installed_by VARCHAR(128) NOT NULL DEFAULT '',
		installed_at BIGINT NOT NULL DEFAULT 0,
		enabled_at BIGINT NOT NULL DEFAULT 0,
		install_hook_ran TINYINT(1) NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		INDEX idx_plugin_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: create plugin_records: %v", warden.ErrStorageFailure, err)
	}
	return nil
}

const recordColumns = `id, name, version, manifest, checksum, artifact_path,
	allowed_domains, status, installed_by, installed_at, enabled_at,
	install_hook_ran, created_at, updated_at`

// Create implements warden.Catalog.
func (c *MySQLCatalog) Create(ctx context.Context, rec *warden.PluginRecord) error {
	manifestJSON, domainsJSON, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `INSERT INTO plugin_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = c.db.ExecContext(ctx, query,
		rec.ID(), rec.Name, rec.Version, manifestJSON, rec.Checksum,
		rec.ArtifactPath, domainsJSON, string(rec.Status), rec.InstalledBy,
		unixOrZero(rec.InstalledAt), unixOrZero(rec.EnabledAt),
		rec.InstallHookRan, createdAt.Unix(), now.Unix())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return warden.ErrAlreadyInstalled
		}
		return fmt.Errorf("%w: insert plugin record: %v", warden.ErrStorageFailure, err)
	}
	return nil
}

// Update implements warden.Catalog.
func (c *MySQLCatalog) Update(ctx context.Context, rec *warden.PluginRecord) error {
	manifestJSON, domainsJSON, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	query := `UPDATE plugin_records SET
		manifest = ?, checksum = ?, artifact_path = ?, allowed_domains = ?,
		status = ?, installed_by = ?, installed_at = ?, enabled_at = ?,
		install_hook_ran = ?, updated_at = ?
		WHERE id = ?`
	result, err := c.db.ExecContext(ctx, query,
		manifestJSON, rec.Checksum, rec.ArtifactPath, domainsJSON,
		string(rec.Status), rec.InstalledBy, unixOrZero(rec.InstalledAt),
		unixOrZero(rec.EnabledAt), rec.InstallHookRan, time.Now().Unix(),
		rec.ID())
	if err != nil {
		return fmt.Errorf("%w: update plugin record: %v", warden.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", warden.ErrStorageFailure, err)
	}
	if rows == 0 {
		// Either missing or unchanged. Distinguish with a lookup so
		// no-op updates are not reported as missing plugins.
		var one int
		err := c.db.QueryRowContext(ctx,
			"SELECT 1 FROM plugin_records WHERE id = ?", rec.ID()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return warden.ErrPluginNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: verify plugin record: %v", warden.ErrStorageFailure, err)
		}
	}
	return nil
}

// Get implements warden.Catalog.
func (c *MySQLCatalog) Get(ctx context.Context, id string) (*warden.PluginRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM plugin_records WHERE id = ?`
	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warden.ErrPluginNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get plugin record: %v", warden.ErrStorageFailure, err)
	}
	return rec, nil
}

// Delete implements warden.Catalog.
func (c *MySQLCatalog) Delete(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM plugin_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete plugin record: %v", warden.ErrStorageFailure, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", warden.ErrStorageFailure, err)
	}
	if rows == 0 {
		return warden.ErrPluginNotFound
	}
	return nil
}

// List implements warden.Catalog.
func (c *MySQLCatalog) List(ctx context.Context) ([]*warden.PluginRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM plugin_records ORDER BY id`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list plugin records: %v", warden.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []*warden.PluginRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan plugin record: %v", warden.ErrStorageFailure, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate plugin records: %v", warden.ErrStorageFailure, err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (c *MySQLCatalog) Close() error {
	return c.db.Close()
}

var _ warden.Catalog = (*MySQLCatalog)(nil)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*warden.PluginRecord, error) {
	var (
		rec          warden.PluginRecord
		id           string
		manifestJSON string
		domainsJSON  sql.NullString
		status       string
		installedAt  int64
		enabledAt    int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&id, &rec.Name, &rec.Version, &manifestJSON, &rec.Checksum,
		&rec.ArtifactPath, &domainsJSON, &status, &rec.InstalledBy,
		&installedAt, &enabledAt, &rec.InstallHookRan, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var manifest warden.Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", id, err)
	}
	rec.Manifest = &manifest

	if domainsJSON.Valid && domainsJSON.String != "" {
		if err := json.Unmarshal([]byte(domainsJSON.String), &rec.AllowedDomains); err != nil {
			return nil, fmt.Errorf("decode allowed domains for %s: %w", id, err)
		}
	}

	rec.Status = warden.Status(status)
	rec.InstalledAt = timeFromUnix(installedAt)
	rec.EnabledAt = timeFromUnix(enabledAt)
	rec.CreatedAt = timeFromUnix(createdAt)
	rec.UpdatedAt = timeFromUnix(updatedAt)
	return &rec, nil
}

func encodeRecord(rec *warden.PluginRecord) (manifestJSON, domainsJSON string, err error) {
	if rec.Manifest == nil {
		return "", "", fmt.Errorf("%w: encode record %s: nil manifest", warden.ErrStorageFailure, rec.ID())
	}
	mb, err := json.Marshal(rec.Manifest)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode manifest: %v", warden.ErrStorageFailure, err)
	}
	db, err := json.Marshal(rec.AllowedDomains)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode allowed domains: %v", warden.ErrStorageFailure, err)
	}
	return string(mb), string(db), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Database configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second

	// mysqlDialTimeout bounds TCP connection setup to the MySQL server.
	mysqlDialTimeout = 10 * time.Second

	// maxIdentifierLength is the MySQL limit, applied to both dialects.
	maxIdentifierLength = 64
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

// Supported dialects. The values are the database/sql driver names.
const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DB wraps a sql.DB connection with knxlog-specific functionality.
//
// The pool is limited to a single connection: the persistence engine is
// the only writer and owns the handle exclusively.
type DB struct {
	*sql.DB
	dialect Dialect
	path    string
}

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Driver is "sqlite3" (default) or "mysql".
	Driver string

	// Path is the filesystem path to the SQLite database file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging (SQLite only).
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	// SQLite only.
	BusyTimeout int

	// DSN is the MySQL data source name, e.g. "knx:secret@tcp(db:3306)/knx".
	// parseTime and loc are forced so timestamps round-trip as UTC.
	DSN string
}

// Open creates a new database connection and verifies it with a ping.
//
// A failed ping is returned as an error; callers treat a failure here as
// fatal because a connection that never worked is a configuration problem,
// not an outage.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)

	dialect := Dialect(cfg.Driver)
	switch dialect {
	case "", DialectSQLite:
		dialect = DialectSQLite
		sqlDB, err = openSQLite(cfg)
	case DialectMySQL:
		sqlDB, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	// Single owner, single connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{
		DB:      sqlDB,
		dialect: dialect,
		path:    cfg.Path,
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if dialect == DialectSQLite {
		// Ignore error - the file may only appear after the first write
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Intentional
	}

	return db, nil
}

func openSQLite(cfg Config) (*sql.DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open(string(DialectSQLite), connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return sqlDB, nil
}

func openMySQL(cfg Config) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing MySQL DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	if mc.Timeout == 0 {
		mc.Timeout = mysqlDialTimeout
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Dialect returns the SQL flavour of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Path returns the filesystem path to the database file (SQLite only).
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database is accessible and functioning.
// It performs a simple query to ensure the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	err := db.DB.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats returns database connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext executes a query that doesn't return rows (INSERT, DELETE, DDL).
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// QueryRowContext executes a query that returns at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// ValidIdentifier reports whether name may be interpolated into SQL text:
// ASCII letters, digits and underscore only, at most 64 characters.
func ValidIdentifier(name string) bool {
	return len(name) <= maxIdentifierLength && identifierPattern.MatchString(name)
}

// QuoteIdentifier validates name and quotes it for the connection's dialect.
//
// Values always go through placeholders; this is only for table and column
// names, which cannot.
func (db *DB) QuoteIdentifier(name string) (string, error) {
	return db.dialect.QuoteIdentifier(name)
}

// QuoteIdentifier validates name and quotes it for the dialect.
func (d Dialect) QuoteIdentifier(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if d == DialectMySQL {
		return "`" + name + "`", nil
	}
	return `"` + name + `"`, nil
}

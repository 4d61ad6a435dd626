package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
)

// TableName is the audit table.
const TableName = "knx_log"

// Column limits, matching the DDL below.
const (
	maxDescriptionLength = 400
	maxValueLength       = 40

	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

const sqliteDDL = `CREATE TABLE IF NOT EXISTS knx_log (
	ts       DATETIME     NOT NULL,
	src_addr VARCHAR(16)  NOT NULL,
	dst_addr VARCHAR(16)  NOT NULL,
	dst_desc VARCHAR(400),
	dpt      VARCHAR(10)  NOT NULL,
	value    VARCHAR(40)
)`

var sqliteIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_knx_log_ts ON knx_log (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_knx_log_src ON knx_log (src_addr)`,
	`CREATE INDEX IF NOT EXISTS idx_knx_log_dst ON knx_log (dst_addr)`,
}

const mysqlDDL = "CREATE TABLE IF NOT EXISTS `knx_log` (" + `
	ts       DATETIME(6)  NOT NULL,
	src_addr VARCHAR(16)  NOT NULL,
	dst_addr VARCHAR(16)  NOT NULL,
	dst_desc VARCHAR(400),
	dpt      VARCHAR(10)  NOT NULL,
	value    VARCHAR(40),
	KEY idx_knx_log_ts (ts),
	KEY idx_knx_log_src (src_addr),
	KEY idx_knx_log_dst (dst_addr)
)`

// Entry is one audit row.
type Entry struct {
	Timestamp   time.Time
	Source      string
	Destination string
	Description string
	DPT         string

	// Value is nil when the telegram carried no decodable value.
	Value *string
}

// Filter controls which rows Recent returns.
type Filter struct {
	Destination string    // optional: only this group address
	Since       time.Time // optional: only rows at or after this time
	Limit       int       // default 50, max 1000
}

// Log reads and writes the audit table over one connection.
type Log struct {
	db *database.DB
}

// New creates a Log bound to db.
func New(db *database.DB) *Log {
	return &Log{db: db}
}

// FormatValue projects a decoded value onto the audit value column.
func FormatValue(v knx.Value) *string {
	if !v.Valid() {
		return nil
	}
	s := truncate(v.String(), maxValueLength)
	return &s
}

// Cutoff returns the oldest timestamp kept under a retention of months.
func Cutoff(now time.Time, months int) time.Time {
	return now.AddDate(0, -months, 0)
}

// Exists probes the table. Any error is treated as "missing" by callers.
func (l *Log) Exists(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, "SELECT ts FROM "+TableName+" LIMIT 0")
	if err != nil {
		return err
	}
	return rows.Close()
}

// EnsureTable probes the audit table and creates it when the probe fails.
// Losing a creation race to another writer is not an error.
//
// It reports whether this call created the table.
func (l *Log) EnsureTable(ctx context.Context) (bool, error) {
	if err := l.Exists(ctx); err == nil {
		return false, nil
	}

	stmts := []string{mysqlDDL}
	if l.db.Dialect() != database.DialectMySQL {
		stmts = append([]string{sqliteDDL}, sqliteIndexes...)
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil && !database.IsTableExistsError(err) {
			return false, fmt.Errorf("creating %s: %w", TableName, err)
		}
	}
	return true, nil
}

// Insert appends one row. Timestamps are stored in UTC.
func (l *Log) Insert(ctx context.Context, e Entry) error {
	var value any
	if e.Value != nil {
		value = truncate(*e.Value, maxValueLength)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO knx_log (ts, src_addr, dst_addr, dst_desc, dpt, value) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(),
		e.Source,
		e.Destination,
		nullableString(truncate(e.Description, maxDescriptionLength)),
		e.DPT,
		value,
	)
	if err != nil {
		return fmt.Errorf("inserting audit row: %w", err)
	}
	return nil
}

// Sweep deletes rows older than cutoff and returns how many were removed.
func (l *Log) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM knx_log WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping audit rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // count is informational only
	}
	return n, nil
}

// Recent returns audit rows matching the filter, newest first.
func (l *Log) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultRecentLimit
	}
	if filter.Limit > maxRecentLimit {
		filter.Limit = maxRecentLimit
	}

	query := `SELECT ts, src_addr, dst_addr, dst_desc, dpt, value FROM knx_log WHERE 1 = 1`
	var args []any
	if filter.Destination != "" {
		query += ` AND dst_addr = ?`
		args = append(args, filter.Destination)
	}
	if !filter.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit rows: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			desc  sql.NullString
			value sql.NullString
		)
		if err := rows.Scan(&e.Timestamp, &e.Source, &e.Destination, &desc, &e.DPT, &value); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Description = desc.String
		if value.Valid {
			v := value.String
			e.Value = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

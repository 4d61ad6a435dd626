package persist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/knxlog/internal/audit"
	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
)

// Catalog remembers which tables are known to exist on the current
// connection, and the value kind of each point table.
//
// Entries are only added after a successful probe or create. Reset clears
// everything; the engine calls it whenever it switches connections.
//
// Thread Safety: all methods are safe for concurrent use, though the
// engine is the only caller in practice.
type Catalog struct {
	mu         sync.Mutex
	db         *database.DB
	audit      *audit.Log
	auditReady bool
	points     map[string]knx.Kind
	logger     Logger
	metrics    Recorder
}

// NewCatalog creates an empty catalog for db.
func NewCatalog(db *database.DB, logger Logger, metrics Recorder) *Catalog {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Catalog{
		db:      db,
		audit:   audit.New(db),
		points:  make(map[string]knx.Kind),
		logger:  logger,
		metrics: metrics,
	}
}

// Reset forgets every table and binds the catalog to db.
func (c *Catalog) Reset(db *database.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	c.audit = audit.New(db)
	c.auditReady = false
	clear(c.points)
}

// Audit returns the audit log on the current connection.
func (c *Catalog) Audit() *audit.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audit
}

// Known returns the cached value kind of a point table.
func (c *Catalog) Known(table string) (knx.Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kind, ok := c.points[table]
	return kind, ok
}

// EnsureAudit makes sure the audit table exists.
func (c *Catalog) EnsureAudit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auditReady {
		return nil
	}
	created, err := c.audit.EnsureTable(ctx)
	if err != nil {
		return err
	}
	if created {
		c.logInfo("created table", "table", audit.TableName)
		c.metrics.TableCreated("audit")
	}
	c.auditReady = true
	return nil
}

// EnsurePoint makes sure a point table exists with a value column for kind
// (knx.KindInteger or knx.KindFloat).
//
// The table is probed first; only when the probe fails is it created.
// Losing the creation race is tolerated. If the existing column holds the
// other numeric kind, ErrKindMismatch is returned and nothing is altered.
func (c *Catalog) EnsurePoint(ctx context.Context, table string, kind knx.Kind) error {
	if kind != knx.KindInteger && kind != knx.KindFloat {
		return fmt.Errorf("%w: %s is not numeric", ErrKindMismatch, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.points[table]; ok {
		return checkKind(table, existing, kind)
	}

	quoted, err := c.db.QuoteIdentifier(table)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTableName, err)
	}

	existing, probeErr := c.probe(ctx, quoted)
	if probeErr != nil {
		if _, err := c.db.ExecContext(ctx, c.pointDDL(quoted, kind)); err != nil && !database.IsTableExistsError(err) {
			return fmt.Errorf("creating %s: %w", table, err)
		}
		// Re-probe: whoever won a creation race decided the column type.
		existing, err = c.probe(ctx, quoted)
		if err != nil {
			return fmt.Errorf("probing %s after create: %w", table, err)
		}
		if existing == kind {
			c.logInfo("created table", "table", table, "kind", kind.String())
			c.metrics.TableCreated("point")
		}
	}

	c.points[table] = existing
	return checkKind(table, existing, kind)
}

// probe reads the value column type of a point table without fetching rows.
func (c *Catalog) probe(ctx context.Context, quoted string) (knx.Kind, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT ts, value FROM "+quoted+" LIMIT 0") //nolint:gosec // identifier validated by QuoteIdentifier
	if err != nil {
		return knx.KindUnrepresentable, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return knx.KindUnrepresentable, fmt.Errorf("reading column types: %w", err)
	}
	if len(types) != 2 {
		return knx.KindUnrepresentable, fmt.Errorf("unexpected column count %d", len(types))
	}
	return columnKind(types[1].DatabaseTypeName()), nil
}

func (c *Catalog) pointDDL(quoted string, kind knx.Kind) string {
	if c.db.Dialect() == database.DialectMySQL {
		column := "BIGINT"
		if kind == knx.KindFloat {
			column = "DOUBLE"
		}
		return "CREATE TABLE IF NOT EXISTS " + quoted + " (ts DATETIME(6) NOT NULL, value " + column + " NOT NULL, PRIMARY KEY (ts))"
	}
	column := "INTEGER"
	if kind == knx.KindFloat {
		column = "DOUBLE"
	}
	return "CREATE TABLE IF NOT EXISTS " + quoted + " (ts DATETIME NOT NULL PRIMARY KEY, value " + column + " NOT NULL)"
}

// columnKind maps a driver column type name onto a value kind. Unknown
// names map to KindUnrepresentable, which never matches a write.
func columnKind(typeName string) knx.Kind {
	t := strings.ToUpper(typeName)
	switch {
	case strings.Contains(t, "INT"):
		return knx.KindInteger
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"),
		strings.Contains(t, "REAL"), strings.Contains(t, "DECIMAL"):
		return knx.KindFloat
	default:
		return knx.KindUnrepresentable
	}
}

func checkKind(table string, existing, want knx.Kind) error {
	if existing != want {
		return fmt.Errorf("%w: %s holds %s, got %s", ErrKindMismatch, table, existing, want)
	}
	return nil
}

func (c *Catalog) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

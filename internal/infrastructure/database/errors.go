package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// mysqlErrTableExists is ER_TABLE_EXISTS_ERROR.
const mysqlErrTableExists = 1050

// errDBClosedText is the message of database/sql's unexported error for a
// closed pool.
const errDBClosedText = "sql: database is closed"

// Sentinel errors for database operations.
var (
	// ErrUnsupportedDriver indicates a driver other than sqlite3 or mysql.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")

	// ErrInvalidIdentifier indicates a table or column name outside the
	// allowed character set.
	ErrInvalidIdentifier = errors.New("database: invalid identifier")
)

// IsConnectionError reports whether err means the connection itself is
// gone, as opposed to a single statement failing on a healthy connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), errDBClosedText) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTableExistsError reports whether err is a CREATE TABLE conflict with a
// table that already exists.
func IsTableExistsError(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrTableExists
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrError && strings.Contains(liteErr.Error(), "already exists")
	}
	return false
}

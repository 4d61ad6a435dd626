// Package database provides SQL connectivity for knxlog.
//
// Two dialects are supported:
//   - sqlite3 (github.com/mattn/go-sqlite3): embedded, used for single-box
//     installs and tests
//   - mysql (github.com/go-sql-driver/mysql): the production store
//
// The pool holds one connection. Only the persistence engine writes, and a
// lost connection is handled by opening a new DB rather than letting the
// pool redial silently, so the engine sees every outage.
//
// Security Considerations:
//   - Values always use parameterised statements
//   - Table names are validated with ValidIdentifier and quoted with
//     QuoteIdentifier before being interpolated
//   - SQLite file permissions are set to 0600
//
// Errors are classified with IsConnectionError (reconnect) and
// IsTableExistsError (lost CREATE TABLE race, safe to ignore).
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Driver: "mysql", DSN: dsn})
//	if err != nil {
//	    return err // never connected: fatal
//	}
//	defer db.Close()
package database

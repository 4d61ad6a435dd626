package persist

import "errors"

// Sentinel errors for persistence operations.
var (
	// ErrKindMismatch indicates a numeric value whose kind differs from the
	// point table's value column.
	ErrKindMismatch = errors.New("persist: value kind does not match point table")

	// ErrInvalidTableName indicates a derived table name outside the
	// allowed identifier character set.
	ErrInvalidTableName = errors.New("persist: invalid table name")

	// ErrShutdown indicates the engine stopped while an event was waiting
	// for the database to come back.
	ErrShutdown = errors.New("persist: shut down while reconnecting")

	// ErrClosed indicates the engine was closed while reconnecting.
	ErrClosed = errors.New("persist: engine closed")

	// ErrNoDialer indicates an Engine was created without a way to reconnect.
	ErrNoDialer = errors.New("persist: dialer is required")

	// ErrNoDatabase indicates an Engine was created without an initial
	// connection.
	ErrNoDatabase = errors.New("persist: initial connection is required")

	// ErrNoQueue indicates an Engine was created without a queue.
	ErrNoQueue = errors.New("persist: queue is required")
)

package ingest

import "errors"

// Sentinel errors for intake construction.
var (
	// ErrNoRegistry indicates an Intake was created without an address book.
	ErrNoRegistry = errors.New("ingest: registry is required")

	// ErrNoQueue indicates an Intake was created without a queue.
	ErrNoQueue = errors.New("ingest: queue is required")
)

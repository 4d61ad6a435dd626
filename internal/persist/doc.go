// Package persist drains the ingest queue into the database.
//
// For every envelope the Engine:
//  1. pings the database and, if it is gone, reconnects before going on
//  2. appends a row to the audit table and sweeps expired audit rows
//  3. for numeric datapoints, appends (ts, value) to the point table
//     data_<main>_<middle>_<sub>_<dpt>, creating it on first use
//  4. hands the envelope to the configured mirrors (InfluxDB, MQTT)
//
// # Connection loss
//
// The engine has two states, Connected and Reconnecting. A failed ping or a
// statement error classified by database.IsConnectionError moves it to
// Reconnecting; it then dials immediately and, while that keeps failing,
// every ReconnectInterval, forever. The envelope in flight is held and
// resumes at the step that failed, so an audit row is never written twice
// because a later step lost the connection. Nothing is dequeued while
// reconnecting.
//
// Any other statement error is logged and the step is skipped.
//
// # Point tables
//
// The value column is INTEGER (BIGINT on MySQL) or DOUBLE, fixed by the
// first value written. A later value of the other kind is rejected with
// ErrKindMismatch rather than coerced.
package persist

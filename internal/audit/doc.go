// Package audit maintains the knx_log table: one row per received group
// telegram for every address in the address book, kept for a fixed number
// of months.
//
// The table is created on demand by EnsureTable. Rows older than the
// retention cutoff are removed by Sweep, which the persistence engine runs
// after every insert.
//
// Values are stored as text (Value.String). Telegrams whose payload could
// not be decoded, and read requests, store NULL.
package audit

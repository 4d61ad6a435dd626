// Package knx implements the KNX side of knxlog: group addresses, datapoint
// type decoding and a receive-only knxd client.
//
// # Architecture
//
//	┌──────────┐  GROUPCON  ┌──────────────┐  Telegram  ┌──────────────┐
//	│   knxd   │───────────►│   Listener   │───────────►│ ingest.Intake │
//	└──────────┘            └──────────────┘            └──────────────┘
//
// The listener never writes to the bus.
//
// # Group Addresses
//
// This package uses the 3-level format Main/Middle/Sub (e.g. "5/0/2").
// StorageIdentifier gives the "_" separated form used in table names.
//
// # Datapoint Types
//
// Decode maps an ASDU to a Value by DPT family:
//
//   - 1: boolean
//   - 3: control + step, rendered "control,step"
//   - 5, 6, 7, 8, 12, 13: unsigned/signed integers of 8, 16, 32 bits
//   - 9: 2-byte KNX float
//   - 10, 11: time of day and date, rendered as text
//   - 14: IEEE-754 single precision float
//   - 16: 14-byte string, ASCII (16.000) or ISO-8859-1 (16.001)
//   - 17: scene number
//
// Any other family, including 2, decodes to Unrepresentable.
//
// # Thread Safety
//
// Decode and the address helpers are pure. Listener methods are safe for
// concurrent use.
package knx

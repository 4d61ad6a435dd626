package knx

import "errors"

// Domain errors for the KNX package.
var (
	// ErrConnectionFailed is returned when the connection to knxd fails.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidDPT is returned when a datapoint type identifier is invalid.
	ErrInvalidDPT = errors.New("knx: invalid datapoint type")

	// ErrUnsupportedDPT is returned when a datapoint type family has no
	// defined decoding.
	ErrUnsupportedDPT = errors.New("knx: unsupported datapoint type")

	// ErrDecodingFailed is returned when decoding KNX data to a value fails.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrInvalidTelegram is returned when a received telegram is malformed.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrProtocolDesync is returned when the knxd byte stream can no longer
	// be framed and the connection must be re-established.
	ErrProtocolDesync = errors.New("knx: protocol desync")
)

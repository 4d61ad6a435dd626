package registry

import "errors"

// Sentinel errors for address book loading.
var (
	// ErrDuplicateAddress indicates two datapoints share a group address.
	ErrDuplicateAddress = errors.New("registry: duplicate group address")

	// ErrInvalidRow indicates an address book row could not be parsed.
	ErrInvalidRow = errors.New("registry: invalid row")

	// ErrUnknownCharset indicates the configured CSV charset is not known.
	ErrUnknownCharset = errors.New("registry: unknown charset")

	// ErrUnknownFormat indicates the address book format could not be
	// determined from configuration or file extension.
	ErrUnknownFormat = errors.New("registry: unknown address book format")

	// ErrEmpty indicates the address book contained no datapoints.
	ErrEmpty = errors.New("registry: no datapoints found")
)

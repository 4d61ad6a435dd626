package ingest

import (
	"encoding/hex"
	"time"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/registry"
)

// Envelope is one received group telegram together with its datapoint
// metadata and decoded value. It is immutable once built.
type Envelope struct {
	kind        knx.EventKind
	source      knx.IndividualAddress
	destination registry.Datapoint
	timestamp   time.Time
	payload     []byte
	value       knx.Value
	decodeErr   error
}

// NewEnvelope builds an envelope and decodes the payload.
//
// The payload is copied. Read requests carry no value and are never
// decoded. A decode failure leaves Value Unrepresentable and is reported
// by DecodeErr; the envelope is still usable.
func NewEnvelope(kind knx.EventKind, source knx.IndividualAddress, dp registry.Datapoint, ts time.Time, payload []byte) Envelope {
	e := Envelope{
		kind:        kind,
		source:      source,
		destination: dp,
		timestamp:   ts,
		payload:     append([]byte(nil), payload...),
	}
	if kind != knx.EventReadRequest {
		e.value, e.decodeErr = knx.Decode(e.payload, dp.Type, dp.Family)
	}
	return e
}

// Kind returns the telegram kind.
func (e Envelope) Kind() knx.EventKind { return e.kind }

// Source returns the sending device.
func (e Envelope) Source() knx.IndividualAddress { return e.source }

// Destination returns the destination group address.
func (e Envelope) Destination() knx.GroupAddress { return e.destination.Address }

// Name returns the datapoint name from the address book.
func (e Envelope) Name() string { return e.destination.Name }

// Type returns the datapoint type.
func (e Envelope) Type() knx.DPT { return e.destination.Type }

// Family returns the datapoint type main number.
func (e Envelope) Family() int { return e.destination.Family }

// Timestamp returns the receive time in the site time zone.
func (e Envelope) Timestamp() time.Time { return e.timestamp }

// Payload returns a copy of the raw ASDU.
func (e Envelope) Payload() []byte { return append([]byte(nil), e.payload...) }

// PayloadHex returns the raw ASDU as lowercase hex.
func (e Envelope) PayloadHex() string { return hex.EncodeToString(e.payload) }

// Value returns the decoded value.
func (e Envelope) Value() knx.Value { return e.value }

// DecodeErr returns the decode failure, if any.
func (e Envelope) DecodeErr() error { return e.decodeErr }

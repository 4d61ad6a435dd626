package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd protocol message types.
const (
	// EIBOpenGroupCon opens a group socket for receiving group telegrams.
	// Format: type(2) + reserved(1) + write_only(1) + reserved(1)
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries a group telegram.
	// Receive payload: src(2) + GA(2) + APDU (2+ bytes)
	EIBGroupPacket uint16 = 0x0027
)

// APCI (Application Protocol Control Information) codes.
const (
	// APCIRead is a group read request.
	APCIRead byte = 0x00

	// APCIResponse is a group read response.
	APCIResponse byte = 0x40

	// APCIWrite is a group write.
	APCIWrite byte = 0x80
)

const (
	// knxdHeaderSize is the size of the knxd message header (size + type).
	knxdHeaderSize = 4

	// groupPacketHeaderSize is src(2) + GA(2) + TPCI(1) + APCI(1).
	groupPacketHeaderSize = 6
)

// EventKind classifies a group telegram by its APCI.
type EventKind string

// Event kinds.
const (
	EventWrite        EventKind = "write"
	EventReadRequest  EventKind = "readRequest"
	EventReadResponse EventKind = "readResponse"
)

// Telegram represents a received KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address.
	Source IndividualAddress

	// Destination is the target group address.
	Destination GroupAddress

	// APCI indicates the telegram type (read, response, or write).
	APCI byte

	// Data contains the DPT-encoded payload (nil for read requests).
	Data []byte

	// Timestamp records when the telegram was received.
	Timestamp time.Time

	// apciHigh holds the two APCI bits carried in the TPCI octet. They are
	// zero for every group service.
	apciHigh byte
}

// ParseTelegram parses a raw knxd group packet into a Telegram.
//
// The received format (EIB_OPEN_GROUPCON / EIB_GROUP_PACKET) is:
//
//	Byte 0-1: Source individual address (big-endian)
//	Byte 2-3: Destination group address (big-endian)
//	Byte 4:   TPCI (usually 0x00)
//	Byte 5:   APCI (upper 2 bits) | data (lower 6 bits) for short frames
//	Byte 6+:  Additional data bytes for long frames
//
// now supplies the receive timestamp.
func ParseTelegram(data []byte, now time.Time) (Telegram, error) {
	if len(data) < groupPacketHeaderSize {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)", ErrInvalidTelegram, len(data), groupPacketHeaderSize)
	}

	source := IndividualAddress(binary.BigEndian.Uint16(data[0:2]))
	dest := GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4]))
	apci := data[5] & 0xC0

	var payload []byte
	if len(data) > groupPacketHeaderSize {
		payload = make([]byte, len(data)-groupPacketHeaderSize)
		copy(payload, data[groupPacketHeaderSize:])
	} else if apci == APCIWrite || apci == APCIResponse {
		payload = []byte{data[5] & 0x3F}
	}

	return Telegram{
		Source:      source,
		Destination: dest,
		APCI:        apci,
		Data:        payload,
		Timestamp:   now,
		apciHigh:    data[4] & 0x03,
	}, nil
}

// Kind maps the APCI to an EventKind. The second result is false for
// APCI values that are not group read/response/write.
func (t Telegram) Kind() (EventKind, bool) {
	if t.apciHigh != 0 {
		return "", false
	}
	switch t.APCI {
	case APCIWrite:
		return EventWrite, true
	case APCIRead:
		return EventReadRequest, true
	case APCIResponse:
		return EventReadResponse, true
	default:
		return "", false
	}
}

// String returns a human-readable representation of the telegram.
func (t Telegram) String() string {
	kind, ok := t.Kind()
	if !ok {
		kind = "unknown"
	}
	return fmt.Sprintf("Telegram{Src:%s, GA:%s, Kind:%s, Data:%X}", t.Source, t.Destination, kind, t.Data)
}

// EncodeKNXDMessage wraps a payload in the knxd message format.
//
//	Byte 0-1: Size of type + payload (big-endian)
//	Byte 2-3: Message type (big-endian)
//	Byte 4+:  Payload
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small message sizes
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseKNXDMessage parses a raw knxd message from the socket.
func ParseKNXDMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	declaredSize := binary.BigEndian.Uint16(data[0:2])
	expectedSize := len(data) - 2
	if int(declaredSize) != expectedSize {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, expected %d)",
			ErrInvalidTelegram, declaredSize, expectedSize)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}

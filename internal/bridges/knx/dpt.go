package knx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// KNX Datapoint Type encoding constants.
const (
	// dpt9Invalid is the "invalid data" sentinel for all DPT 9.xxx types.
	dpt9Invalid = 0x7FFF

	// dpt9MantissaMask is the mask for extracting mantissa from DPT9.
	dpt9MantissaMask = 0x07FF

	// dpt16Length is the fixed length of a DPT16 character string.
	dpt16Length = 14

	// dpt17SceneMask is the mask for extracting scene number.
	dpt17SceneMask = 0x3F

	// dpt11CenturyPivot splits 2-digit years: below is 20xx, otherwise 19xx.
	dpt11CenturyPivot = 90
)

// DPT represents a KNX Datapoint Type identifier.
//
// Format: "major.minor" (e.g., "1.001", "9.001")
type DPT string

// Common DPT identifiers seen in building automation address books.
const (
	DPTSwitch         DPT = "1.001"
	DPTDimmingControl DPT = "3.007"
	DPTPercentage     DPT = "5.001"
	DPTCounter8       DPT = "5.010"
	DPTPercentV8      DPT = "6.001"
	DPTPulses         DPT = "7.001"
	DPTPulsesDiff     DPT = "8.001"
	DPTTemperature    DPT = "9.001"
	DPTLux            DPT = "9.004"
	DPTHumidity       DPT = "9.007"
	DPTTimeOfDay      DPT = "10.001"
	DPTDate           DPT = "11.001"
	DPTCounter32      DPT = "12.001"
	DPTActiveEnergy   DPT = "13.010"
	DPTPower          DPT = "14.056"
	DPTStringASCII    DPT = "16.000"
	DPTStringLatin1   DPT = "16.001"
	DPTSceneNumber    DPT = "17.001"
	DPTSwitchPriority DPT = "2.001"
)

// defaultDPTSubtype is assumed when an address book names only the family.
const defaultDPTSubtype = 1

// ParseDPT parses a "major.minor" identifier and normalises the minor part
// to three digits ("9.1" becomes "9.001").
//
// Returns ErrInvalidDPT when either part is not a non-negative integer.
func ParseDPT(s string) (DPT, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return "", fmt.Errorf("%w: expected major.minor, got %q", ErrInvalidDPT, s)
	}
	return newDPT(major, minor, s)
}

// ParseETSDatapointType converts the datapoint type notation used in ETS
// group address exports into a DPT.
//
// Accepts:
//   - "DPST-9-1" → "9.001"
//   - "DPT-9"    → "9.001" (defaulted is true: the export only names
//     the family, so the first subtype is assumed)
//
// When the cell lists several types separated by commas, the first wins.
func ParseETSDatapointType(s string) (dpt DPT, defaulted bool, err error) {
	s = strings.TrimSpace(s)
	if first, _, found := strings.Cut(s, ","); found {
		s = strings.TrimSpace(first)
	}

	switch {
	case strings.HasPrefix(s, "DPST-"):
		major, minor, ok := strings.Cut(strings.TrimPrefix(s, "DPST-"), "-")
		if !ok {
			return "", false, fmt.Errorf("%w: malformed DPST identifier %q", ErrInvalidDPT, s)
		}
		dpt, err = newDPT(major, minor, s)
		return dpt, false, err
	case strings.HasPrefix(s, "DPT-"):
		dpt, err = newDPT(strings.TrimPrefix(s, "DPT-"), strconv.Itoa(defaultDPTSubtype), s)
		return dpt, err == nil, err
	default:
		return "", false, fmt.Errorf("%w: unrecognised ETS datapoint type %q", ErrInvalidDPT, s)
	}
}

func newDPT(major, minor, raw string) (DPT, error) {
	ma, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: bad main number in %q", ErrInvalidDPT, raw)
	}
	mi, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: bad subtype in %q", ErrInvalidDPT, raw)
	}
	return DPT(fmt.Sprintf("%d.%03d", ma, mi)), nil
}

// Family returns the DPT main number, or 0 when the identifier is malformed.
func (d DPT) Family() int {
	major, _, _ := strings.Cut(string(d), ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StorageIdentifier returns the identifier with "_" in place of ".",
// e.g. "9_001".
func (d DPT) StorageIdentifier() string {
	return strings.ReplaceAll(string(d), ".", "_")
}

// String implements fmt.Stringer.
func (d DPT) String() string { return string(d) }

// Decode interprets an ASDU payload according to its datapoint type.
//
// family selects the binary encoding; dpt only refines it where subtypes
// differ on the wire (16.000 ASCII vs 16.001 ISO-8859-1).
//
// Decode is total: the returned Value is always usable. When the payload
// cannot be interpreted (wrong length, out-of-range field, unsupported
// family) the Value is Unrepresentable and the error explains why; it
// wraps ErrDecodingFailed or ErrUnsupportedDPT.
func Decode(payload []byte, dpt DPT, family int) (Value, error) {
	var (
		v   Value
		err error
	)
	switch family {
	case 1:
		v, err = decodeBoolean(payload)
	case 3:
		v, err = decodeControlStep(payload)
	case 5:
		v, err = decodeUnsigned(payload, family, 1)
	case 6:
		v, err = decodeSigned(payload, family, 1)
	case 7:
		v, err = decodeUnsigned(payload, family, 2)
	case 8:
		v, err = decodeSigned(payload, family, 2)
	case 9:
		v, err = decodeFloat16(payload)
	case 10:
		v, err = decodeTimeOfDay(payload)
	case 11:
		v, err = decodeDate(payload)
	case 12:
		v, err = decodeUnsigned(payload, family, 4)
	case 13:
		v, err = decodeSigned(payload, family, 4)
	case 14:
		v, err = decodeFloat32(payload)
	case 16:
		v, err = decodeString(payload, dpt)
	case 17:
		v, err = decodeScene(payload)
	default:
		return Unrepresentable(), fmt.Errorf("%w: family %d (%s)", ErrUnsupportedDPT, family, dpt)
	}
	if err != nil {
		return Unrepresentable(), err
	}
	return v, nil
}

func requireLength(payload []byte, family, want int) error {
	if len(payload) != want {
		return fmt.Errorf("%w: DPT%d requires %d byte(s), got %d", ErrDecodingFailed, family, want, len(payload))
	}
	return nil
}

func decodeBoolean(payload []byte) (Value, error) {
	if err := requireLength(payload, 1, 1); err != nil {
		return Value{}, err
	}
	return BoolValue(payload[0]&0x01 != 0), nil
}

// decodeControlStep renders DPT3 as "control,step": bit 3 is the
// direction, bits 0-2 the step code.
func decodeControlStep(payload []byte) (Value, error) {
	if err := requireLength(payload, 3, 1); err != nil {
		return Value{}, err
	}
	control := (payload[0] >> 3) & 0x01
	step := payload[0] & 0x07
	return TextValue(fmt.Sprintf("%d,%d", control, step)), nil
}

func decodeUnsigned(payload []byte, family, size int) (Value, error) {
	if err := requireLength(payload, family, size); err != nil {
		return Value{}, err
	}
	switch size {
	case 1:
		return IntValue(int64(payload[0])), nil
	case 2:
		return IntValue(int64(binary.BigEndian.Uint16(payload))), nil
	default:
		return IntValue(int64(binary.BigEndian.Uint32(payload))), nil
	}
}

func decodeSigned(payload []byte, family, size int) (Value, error) {
	if err := requireLength(payload, family, size); err != nil {
		return Value{}, err
	}
	switch size {
	case 1:
		return IntValue(int64(int8(payload[0]))), nil //nolint:gosec // two's complement reinterpretation
	case 2:
		return IntValue(int64(int16(binary.BigEndian.Uint16(payload)))), nil //nolint:gosec // two's complement reinterpretation
	default:
		return IntValue(int64(int32(binary.BigEndian.Uint32(payload)))), nil //nolint:gosec // two's complement reinterpretation
	}
}

// decodeFloat16 decodes the KNX 2-byte float.
//
//	Byte 0: MEEE EMMM (mantissa sign, exponent, mantissa high)
//	Byte 1: MMMM MMMM (mantissa low)
//
// Value = 0.01 × Mantissa × 2^Exponent, mantissa in two's complement.
func decodeFloat16(payload []byte) (Value, error) {
	if err := requireLength(payload, 9, 2); err != nil {
		return Value{}, err
	}

	raw := binary.BigEndian.Uint16(payload)
	if raw == dpt9Invalid {
		return Value{}, fmt.Errorf("%w: DPT9 invalid value 0x7FFF (sensor error or not available)", ErrDecodingFailed)
	}

	exp := int((raw >> 11) & 0x0F)
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11-bit value fits in int16
	if raw&0x8000 != 0 {
		mantissa |= -0x800
	}

	// Scaling by 2^exp first keeps the division exact for values like 6.6.
	return FloatValue(math.Ldexp(float64(mantissa), exp) / 100), nil
}

func decodeFloat32(payload []byte) (Value, error) {
	if err := requireLength(payload, 14, 4); err != nil {
		return Value{}, err
	}
	f := math.Float32frombits(binary.BigEndian.Uint32(payload))
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return Value{}, fmt.Errorf("%w: DPT14 non-finite value", ErrDecodingFailed)
	}
	return FloatValue(float64(f)), nil
}

// decodeTimeOfDay decodes DPT10. The day of week in the top three bits of
// byte 0 is not part of the rendering.
func decodeTimeOfDay(payload []byte) (Value, error) {
	if err := requireLength(payload, 10, 3); err != nil {
		return Value{}, err
	}
	hour := payload[0] & 0x1F
	minute := payload[1] & 0x3F
	second := payload[2] & 0x3F
	if hour > 23 || minute > 59 || second > 59 {
		return Value{}, fmt.Errorf("%w: DPT10 time out of range %02d:%02d:%02d", ErrDecodingFailed, hour, minute, second)
	}
	return TextValue(fmt.Sprintf("%02d:%02d:%02d", hour, minute, second)), nil
}

func decodeDate(payload []byte) (Value, error) {
	if err := requireLength(payload, 11, 3); err != nil {
		return Value{}, err
	}
	day := int(payload[0] & 0x1F)
	month := int(payload[1] & 0x0F)
	year := int(payload[2] & 0x7F)
	if day < 1 || day > 31 || month < 1 || month > 12 || year > 99 {
		return Value{}, fmt.Errorf("%w: DPT11 date out of range day=%d month=%d year=%d", ErrDecodingFailed, day, month, year)
	}
	if year < dpt11CenturyPivot {
		year += 2000
	} else {
		year += 1900
	}
	return TextValue(fmt.Sprintf("%04d-%02d-%02d", year, month, day)), nil
}

func decodeString(payload []byte, dpt DPT) (Value, error) {
	if err := requireLength(payload, 16, dpt16Length); err != nil {
		return Value{}, err
	}
	raw := payload
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	if dpt == DPTStringLatin1 {
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: DPT16 latin-1: %w", ErrDecodingFailed, err)
		}
		return TextValue(string(s)), nil
	}

	for _, b := range raw {
		if b > 0x7F {
			return Value{}, fmt.Errorf("%w: DPT16 non-ASCII byte 0x%02X in %s", ErrDecodingFailed, b, dpt)
		}
	}
	return TextValue(string(raw)), nil
}

func decodeScene(payload []byte) (Value, error) {
	if err := requireLength(payload, 17, 1); err != nil {
		return Value{}, err
	}
	return IntValue(int64(payload[0] & dpt17SceneMask)), nil
}

package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/registry"
)

var temperatureDP = registry.Datapoint{
	Address: knx.GroupAddress{Main: 5, Middle: 0, Sub: 2},
	Name:    "EG-Temperatur-Küche Ist-Wandsensor",
	Type:    knx.DPTTemperature,
	Family:  9,
}

func TestNewEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte{0x0C, 0x3D}

	e := NewEnvelope(knx.EventWrite, 0x1104, temperatureDP, ts, payload)
	payload[0] = 0xFF

	if e.Kind() != knx.EventWrite {
		t.Errorf("Kind() = %q, want write", e.Kind())
	}
	if e.Source().String() != "1.1.4" {
		t.Errorf("Source() = %s, want 1.1.4", e.Source())
	}
	if e.Destination().String() != "5/0/2" {
		t.Errorf("Destination() = %s, want 5/0/2", e.Destination())
	}
	if e.Name() != temperatureDP.Name || e.Type() != knx.DPTTemperature || e.Family() != 9 {
		t.Errorf("metadata = %q %q %d", e.Name(), e.Type(), e.Family())
	}
	if !e.Timestamp().Equal(ts) {
		t.Errorf("Timestamp() = %v, want %v", e.Timestamp(), ts)
	}
	if e.PayloadHex() != "0c3d" {
		t.Errorf("PayloadHex() = %q, want 0c3d (payload must be copied)", e.PayloadHex())
	}
	if e.DecodeErr() != nil {
		t.Fatalf("DecodeErr() = %v", e.DecodeErr())
	}
	if f, ok := e.Value().Float(); !ok || f != 21.7 {
		t.Errorf("Value() = %#v, want Float(21.7)", e.Value())
	}

	p := e.Payload()
	p[0] = 0x00
	if e.PayloadHex() != "0c3d" {
		t.Error("Payload() exposes internal buffer")
	}
}

func TestNewEnvelopeReadRequestIsNotDecoded(t *testing.T) {
	e := NewEnvelope(knx.EventReadRequest, 0x1101, temperatureDP, time.Now(), nil)
	if e.DecodeErr() != nil {
		t.Errorf("DecodeErr() = %v, want nil", e.DecodeErr())
	}
	if e.Value().Valid() {
		t.Errorf("Value() = %#v, want Unrepresentable", e.Value())
	}
}

func TestNewEnvelopeDecodeFailure(t *testing.T) {
	tests := []struct {
		name    string
		dp      registry.Datapoint
		payload []byte
		wantErr error
	}{
		{
			name:    "short payload",
			dp:      temperatureDP,
			payload: []byte{0x0C},
			wantErr: knx.ErrDecodingFailed,
		},
		{
			name:    "family without decoder",
			dp:      registry.Datapoint{Type: knx.DPTSwitchPriority, Family: 2},
			payload: []byte{0x03},
			wantErr: knx.ErrUnsupportedDPT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnvelope(knx.EventWrite, 0x1101, tt.dp, time.Now(), tt.payload)
			if !errors.Is(e.DecodeErr(), tt.wantErr) {
				t.Errorf("DecodeErr() = %v, want %v", e.DecodeErr(), tt.wantErr)
			}
			if e.Value().Valid() {
				t.Errorf("Value() = %#v, want Unrepresentable", e.Value())
			}
		})
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/config"
	"github.com/nerrad567/knxlog/internal/ingest"
	"github.com/nerrad567/knxlog/internal/registry"
)

// testConfig returns a valid MQTT configuration for a local broker at
// 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "knxlog-test",
		},
		QoS:         1,
		TopicPrefix: "knxlog-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// skipIfNoBroker skips the test if no broker is listening.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}
	conn.Close()
}

var temperatureDP = registry.Datapoint{
	Address: knx.GroupAddress{Main: 5, Middle: 0, Sub: 2},
	Name:    "EG-Temperatur-Küche Ist-Wandsensor",
	Type:    knx.DPTTemperature,
	Family:  9,
}

// =============================================================================
// Topics
// =============================================================================

func TestTopics(t *testing.T) {
	ga := knx.GroupAddress{Main: 5, Middle: 0, Sub: 2}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", Topics{Prefix: "home"}.State(ga), "home/state/5/0/2"},
		{"state default prefix", Topics{}.State(ga), "knxlog/state/5/0/2"},
		{"system status", Topics{Prefix: "home"}.SystemStatus(), "home/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// =============================================================================
// EventPublisher
// =============================================================================

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return f.err
}

func TestEventPublisherMirror(t *testing.T) {
	fake := &fakePublisher{}
	pub, err := NewEventPublisher(fake, Topics{Prefix: "home"}, 1)
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	if pub.Name() != "mqtt" {
		t.Errorf("Name() = %q", pub.Name())
	}

	ts := time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	env := ingest.NewEnvelope(knx.EventWrite, 0x1104, temperatureDP, ts, []byte{0x0C, 0x3D})
	if err := pub.Mirror(context.Background(), env); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	if len(fake.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(fake.msgs))
	}
	msg := fake.msgs[0]
	if msg.topic != "home/state/5/0/2" || msg.qos != 1 || !msg.retained {
		t.Errorf("published to %q qos=%d retained=%v", msg.topic, msg.qos, msg.retained)
	}

	var got map[string]any
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	want := map[string]any{
		"ga":     "5/0/2",
		"name":   temperatureDP.Name,
		"dpt":    "9.001",
		"event":  "write",
		"source": "1.1.4",
		"value":  21.7,
		"raw":    "0c3d",
		"ts":     "2026-03-01T13:00:00+01:00",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %#v, want %#v", k, got[k], v)
		}
	}
}

func TestEventPublisherSkipsEnvelopesWithoutValue(t *testing.T) {
	fake := &fakePublisher{}
	pub, _ := NewEventPublisher(fake, Topics{}, 0)

	env := ingest.NewEnvelope(knx.EventReadRequest, 0x1101, temperatureDP, time.Now(), nil)
	if err := pub.Mirror(context.Background(), env); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if len(fake.msgs) != 0 {
		t.Errorf("read request published %d messages, want 0", len(fake.msgs))
	}
}

func TestEventPublisherReturnsPublishError(t *testing.T) {
	fake := &fakePublisher{err: ErrNotConnected}
	pub, _ := NewEventPublisher(fake, Topics{}, 0)

	env := ingest.NewEnvelope(knx.EventWrite, 0x1104, temperatureDP, time.Now(), []byte{0x0C, 0x3D})
	if err := pub.Mirror(context.Background(), env); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Mirror() error = %v, want ErrNotConnected", err)
	}
}

func TestNewEventPublisherInvalidQoS(t *testing.T) {
	if _, err := NewEventPublisher(&fakePublisher{}, Topics{}, 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("NewEventPublisher() error = %v, want ErrInvalidQoS", err)
	}
}

// =============================================================================
// Client without a broker
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 0, ErrInvalidTopic},
		{"invalid qos", "t", nil, 3, ErrInvalidQoS},
		{"oversized", "t", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "t", []byte("x"), 0, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var got statusPayload
	if err := json.Unmarshal(buildStatusPayload("knxlog-01", StatusOffline, "graceful_shutdown"), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Status != StatusOffline || got.ClientID != "knxlog-01" || got.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", got.Timestamp, err)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestClose(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestEventPublisherRoundtrip(t *testing.T) {
	skipIfNoBroker(t)

	cfg := testConfig()
	cfg.Broker.ClientID = "knxlog-test-roundtrip"
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	subOpts := pahomqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1883").SetClientID("knxlog-test-subscriber")
	sub := pahomqtt.NewClient(subOpts)
	if token := sub.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", token.Error())
	}
	defer sub.Disconnect(100)

	topic := client.Topics().State(temperatureDP.Address)
	token := sub.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case received <- msg.Payload():
		default:
		}
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe failed: %v", token.Error())
	}

	pub, err := NewEventPublisher(client, client.Topics(), 1)
	if err != nil {
		t.Fatal(err)
	}
	env := ingest.NewEnvelope(knx.EventWrite, 0x1104, temperatureDP, time.Now(), []byte{0x0C, 0x3D})
	if err := pub.Mirror(context.Background(), env); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	select {
	case payload := <-received:
		var msg StateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if msg.GA != "5/0/2" || msg.Value != 21.7 {
			t.Errorf("received %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("state message not received")
	}
}

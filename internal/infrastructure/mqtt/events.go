package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/knxlog/internal/ingest"
)

// Publisher is the subset of *Client the EventPublisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StateMessage is the JSON body published on a state topic.
type StateMessage struct {
	GA        string `json:"ga"`
	Name      string `json:"name,omitempty"`
	DPT       string `json:"dpt"`
	Event     string `json:"event"`
	Source    string `json:"source"`
	Value     any    `json:"value"`
	Raw       string `json:"raw"`
	Timestamp string `json:"ts"`
}

// EventPublisher publishes each decoded telegram as retained state on
// <prefix>/state/<main>/<middle>/<sub>. It satisfies persist.Mirror.
type EventPublisher struct {
	publisher Publisher
	topics    Topics
	qos       byte
}

// NewEventPublisher creates an EventPublisher. qos must be 0, 1 or 2.
func NewEventPublisher(p Publisher, topics Topics, qos byte) (*EventPublisher, error) {
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}
	return &EventPublisher{publisher: p, topics: topics, qos: qos}, nil
}

// Name implements persist.Mirror.
func (p *EventPublisher) Name() string { return "mqtt" }

// Mirror publishes env. Envelopes without a value are skipped so a read
// request never overwrites the retained state.
func (p *EventPublisher) Mirror(_ context.Context, env ingest.Envelope) error {
	msg, ok := NewStateMessage(env)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding state: %w", ErrPublishFailed, err)
	}
	return p.publisher.Publish(p.topics.State(env.Destination()), payload, p.qos, true)
}

// NewStateMessage builds the state message for env, or reports false when
// env carries no value.
func NewStateMessage(env ingest.Envelope) (StateMessage, bool) {
	v := env.Value()
	if !v.Valid() {
		return StateMessage{}, false
	}
	return StateMessage{
		GA:        env.Destination().String(),
		Name:      env.Name(),
		DPT:       string(env.Type()),
		Event:     string(env.Kind()),
		Source:    env.Source().String(),
		Value:     v.Any(),
		Raw:       env.PayloadHex(),
		Timestamp: env.Timestamp().Format(time.RFC3339Nano),
	}, true
}

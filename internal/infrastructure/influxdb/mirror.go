package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/knxlog/internal/ingest"
)

// Measurement is the InfluxDB measurement every telegram is written to.
const Measurement = "knx"

// mirrorName identifies this mirror in logs and metrics.
const mirrorName = "influxdb"

// Name implements persist.Mirror.
func (c *Client) Name() string { return mirrorName }

// Mirror writes one telegram as a point in the knx measurement.
//
// Envelopes without a value (read requests, decode failures) are skipped.
// The write is non-blocking; delivery failures arrive through SetOnError.
func (c *Client) Mirror(_ context.Context, env ingest.Envelope) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	point, ok := NewPoint(env)
	if !ok {
		return nil
	}
	c.writeAPI.WritePoint(point)
	return nil
}

// NewPoint builds the InfluxDB point for env. It reports false when the
// envelope carries no value.
//
// Tags: ga, dpt, name, family. Field: value, typed as decoded (float,
// integer, boolean or string).
func NewPoint(env ingest.Envelope) (*write.Point, bool) {
	v := env.Value()
	if !v.Valid() {
		return nil, false
	}

	tags := map[string]string{
		"ga":     env.Destination().String(),
		"dpt":    string(env.Type()),
		"family": strconv.Itoa(env.Family()),
	}
	if env.Name() != "" {
		tags["name"] = env.Name()
	}

	return write.NewPoint(
		Measurement,
		tags,
		map[string]any{"value": v.Any()},
		env.Timestamp(),
	), true
}

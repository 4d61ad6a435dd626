package ingest

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/registry"
)

// Drop reasons reported to Recorder.EventDropped.
const (
	DropUnknownDestination = "unknown_destination"
	DropUnknownAPCI        = "unknown_apci"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder receives intake counters. Implemented by metrics.Metrics.
type Recorder interface {
	EventReceived(kind string)
	EventDropped(reason string)
	DecodeFailed(dpt string)
	QueueDepth(n int)
}

// IntakeOptions holds configuration for creating an Intake.
type IntakeOptions struct {
	// Registry is the address book. Required.
	Registry *registry.Registry

	// Queue receives the envelopes. Required.
	Queue *Queue

	// Logger is optional structured logger.
	Logger Logger

	// Metrics is optional.
	Metrics Recorder

	// Location is the site time zone for Notify timestamps.
	// Default: time.Local.
	Location *time.Location

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Intake accepts bus notifications, filters them against the address book
// and enqueues decoded envelopes.
//
// Thread Safety: Notify and HandleTelegram are safe for concurrent use, but
// FIFO order across producers is only as good as the order of their calls.
type Intake struct {
	registry *registry.Registry
	queue    *Queue
	logger   Logger
	metrics  Recorder
	loc      *time.Location
	now      func() time.Time
}

// NewIntake creates an Intake.
func NewIntake(opts IntakeOptions) (*Intake, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.Queue == nil {
		return nil, ErrNoQueue
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Intake{
		registry: opts.Registry,
		queue:    opts.Queue,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		now:      opts.Now,
	}, nil
}

// Notify handles one bus notification stamped with the current time.
//
// Telegrams for group addresses missing from the address book are logged
// and discarded. It reports whether the event was queued.
func (i *Intake) Notify(kind knx.EventKind, source knx.IndividualAddress, destination knx.GroupAddress, payload []byte) bool {
	return i.notify(kind, source, destination, payload, i.now().In(i.loc))
}

// HandleTelegram adapts Notify to the knx.Listener handler signature,
// keeping the listener's receive timestamp.
func (i *Intake) HandleTelegram(t knx.Telegram) {
	kind, ok := t.Kind()
	if !ok {
		i.logDebug("ignoring telegram with unhandled APCI", "telegram", t.String())
		if i.metrics != nil {
			i.metrics.EventDropped(DropUnknownAPCI)
		}
		return
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = i.now()
	}
	i.notify(kind, t.Source, t.Destination, t.Data, ts.In(i.loc))
}

func (i *Intake) notify(kind knx.EventKind, source knx.IndividualAddress, destination knx.GroupAddress, payload []byte, ts time.Time) bool {
	if i.metrics != nil {
		i.metrics.EventReceived(string(kind))
	}

	dp, ok := i.registry.Lookup(destination)
	if !ok {
		i.logWarn("telegram for unknown group address, ignoring",
			"source", source.String(),
			"destination", destination.String())
		if i.metrics != nil {
			i.metrics.EventDropped(DropUnknownDestination)
		}
		return false
	}

	i.logDebug("decoding telegram",
		"dpt", dp.Type,
		"source", source.String(),
		"destination", destination.String(),
		"name", dp.Name,
		"payload", hex.EncodeToString(payload))

	e := NewEnvelope(kind, source, dp, ts, payload)

	if err := e.DecodeErr(); err != nil {
		level := i.logWarn
		if errors.Is(err, knx.ErrUnsupportedDPT) {
			level = i.logDebug
		}
		level("decode failed",
			"dpt", dp.Type,
			"source", source.String(),
			"destination", destination.String(),
			"payload", e.PayloadHex(),
			"error", err)
		if i.metrics != nil {
			i.metrics.DecodeFailed(dp.Type.String())
		}
	} else {
		i.logDebug("decoded telegram",
			"dpt", dp.Type,
			"destination", destination.String(),
			"value", e.Value().String())
	}

	i.queue.Push(e)
	if i.metrics != nil {
		i.metrics.QueueDepth(i.queue.Len())
	}
	return true
}

func (i *Intake) logDebug(msg string, keysAndValues ...any) {
	if i.logger != nil {
		i.logger.Debug(msg, keysAndValues...)
	}
}

func (i *Intake) logWarn(msg string, keysAndValues ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, keysAndValues...)
	}
}

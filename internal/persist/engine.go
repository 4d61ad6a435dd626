package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knxlog/internal/audit"
	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
	"github.com/nerrad567/knxlog/internal/ingest"
)

// Engine defaults, used when the corresponding Options field is zero.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultReconnectInterval = 600 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
	DefaultRetentionMonths   = 3
)

// State is the connection state of an Engine.
type State int32

const (
	// StateConnected means the engine holds a working connection.
	StateConnected State = iota

	// StateReconnecting means the connection was lost and the engine is
	// dialling until it comes back. Nothing is dequeued in this state.
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stage is one step of persisting an envelope, in execution order.
type stage int

const (
	stageAudit stage = iota
	stageSweep
	stagePoint
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageAudit:
		return "audit"
	case stageSweep:
		return "sweep"
	case stagePoint:
		return "point"
	default:
		return "done"
	}
}

// Dialer opens a new database connection. It is called on every reconnect
// attempt.
type Dialer func(ctx context.Context) (*database.DB, error)

// Mirror receives every envelope whose audit row was written. Failures are
// logged and never retried.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, env ingest.Envelope) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder receives persistence counters. Implemented by metrics.Metrics.
type Recorder interface {
	EventPersisted()
	WriteFailed(stage string)
	TableCreated(kind string)
	ReconnectAttempt(ok bool)
	SetConnected(connected bool)
	QueueDepth(n int)
	AuditSwept(n int64)
	MirrorFailed(name string)
}

type nopRecorder struct{}

func (nopRecorder) EventPersisted() {}
func (nopRecorder) WriteFailed(string) {}
func (nopRecorder) TableCreated(string) {}
func (nopRecorder) ReconnectAttempt(bool) {}
func (nopRecorder) SetConnected(bool) {}
func (nopRecorder) QueueDepth(int) {}
func (nopRecorder) AuditSwept(int64) {}
func (nopRecorder) MirrorFailed(string) {}

// Options holds configuration for creating an Engine.
type Options struct {
	// Queue is drained by Run. Required.
	Queue *ingest.Queue

	// DB is the initial connection, already verified by database.Open.
	// Required.
	DB *database.DB

	// Dialer opens replacement connections after a loss. Required.
	Dialer Dialer

	// Logger is optional structured logger.
	Logger Logger

	// Metrics is optional.
	Metrics Recorder

	// Mirrors are called in order after each successful audit insert.
	Mirrors []Mirror

	// PollInterval is the sleep when the queue is empty. Default: 5s.
	PollInterval time.Duration

	// ReconnectInterval is the sleep between failed reconnects.
	// Default: 600s.
	ReconnectInterval time.Duration

	// HealthTimeout bounds the per-event ping. Default: 5s.
	HealthTimeout time.Duration

	// RetentionMonths is the audit retention. Default: 3.
	RetentionMonths int

	// Now overrides the clock used for the retention cutoff.
	// Default: time.Now.
	Now func() time.Time
}

// Engine is the single consumer of the ingest queue and the exclusive
// owner of the database connection.
//
// Thread Safety: Run and ProcessOne must be called from one goroutine.
// State and Close may be called from any goroutine.
type Engine struct {
	queue *ingest.Queue
	dial  Dialer

	// dbMu guards db and closed. Only the Run goroutine writes db, so it
	// reads db without the lock.
	dbMu   sync.Mutex
	db     *database.DB
	closed bool

	catalog *Catalog
	logger  Logger
	metrics Recorder
	mirrors []Mirror

	pollInterval      time.Duration
	reconnectInterval time.Duration
	healthTimeout     time.Duration
	retentionMonths   int
	now               func() time.Time

	state atomic.Int32
}

// NewEngine creates an Engine in the Connected state.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Queue == nil {
		return nil, ErrNoQueue
	}
	if opts.Dialer == nil {
		return nil, ErrNoDialer
	}
	if opts.DB == nil {
		return nil, ErrNoDatabase
	}

	e := &Engine{
		queue:             opts.Queue,
		dial:              opts.Dialer,
		db:                opts.DB,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		mirrors:           opts.Mirrors,
		pollInterval:      opts.PollInterval,
		reconnectInterval: opts.ReconnectInterval,
		healthTimeout:     opts.HealthTimeout,
		retentionMonths:   opts.RetentionMonths,
		now:               opts.Now,
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	if e.reconnectInterval <= 0 {
		e.reconnectInterval = DefaultReconnectInterval
	}
	if e.healthTimeout <= 0 {
		e.healthTimeout = DefaultHealthTimeout
	}
	if e.retentionMonths <= 0 {
		e.retentionMonths = DefaultRetentionMonths
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.catalog = NewCatalog(opts.DB, opts.Logger, e.metrics)
	e.state.Store(int32(StateConnected))
	e.metrics.SetConnected(true)
	return e, nil
}

// State returns the current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Catalog returns the table catalog of the current connection.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Close closes the current connection. A reconnect still in progress is
// abandoned and the connection it opens is closed straight away.
func (e *Engine) Close() error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func (e *Engine) isClosed() bool {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	return e.closed
}

// swapDB installs db as the current connection. It returns false, and
// closes db, once Close has been called.
func (e *Engine) swapDB(db *database.DB) bool {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if e.closed {
		db.Close() //nolint:errcheck // engine already closed
		return false
	}
	e.db = db
	return true
}

// Run drains the queue until ctx is cancelled.
//
// An event already dequeued is always finished before Run returns, unless
// the connection is down at that moment, in which case Run returns an error
// wrapping ErrShutdown and the event is lost.
func (e *Engine) Run(ctx context.Context) error {
	e.logInfo("persistence engine started",
		"poll_interval", e.pollInterval.String(),
		"retention_months", e.retentionMonths,
	)

	for {
		if ctx.Err() != nil {
			e.logInfo("persistence engine stopped", "pending", e.queue.Len())
			return nil
		}

		env, ok := e.queue.TryPop()
		if !ok {
			sleep(ctx, e.pollInterval)
			continue
		}
		e.metrics.QueueDepth(e.queue.Len())

		if err := e.ProcessOne(ctx, env); errors.Is(err, ErrShutdown) {
			e.logWarn("persistence engine stopped while reconnecting",
				"ga", env.Destination().String(),
				"pending", e.queue.Len(),
			)
			return err
		}
	}
}

// ProcessOne persists one envelope: audit row, retention sweep, point row,
// then mirrors.
//
// A lost connection suspends the envelope at the failing stage until a
// reconnect succeeds; earlier stages are not repeated. Any other stage
// failure is logged and the next stage runs. The returned error joins every
// stage failure and is informational; only ErrShutdown means the envelope
// was not fully handled.
func (e *Engine) ProcessOne(ctx context.Context, env ingest.Envelope) error {
	// Writes finish even when ctx is cancelled mid-event.
	writeCtx := context.WithoutCancel(ctx)

	if err := e.ping(writeCtx); err != nil {
		if err := e.reconnect(ctx, err); err != nil {
			return err
		}
	}

	var (
		errs    []error
		audited bool
	)
	for st := stageAudit; st < stageDone; {
		err := e.runStage(writeCtx, st, env)
		if err != nil && database.IsConnectionError(err) {
			if rerr := e.reconnect(ctx, err); rerr != nil {
				return errors.Join(append(errs, rerr)...)
			}
			continue
		}
		if err != nil {
			e.logError("write failed",
				"stage", st.String(),
				"ga", env.Destination().String(),
				"dpt", string(env.Type()),
				"error", err,
			)
			e.metrics.WriteFailed(st.String())
			errs = append(errs, fmt.Errorf("%s: %w", st, err))
		} else if st == stageAudit {
			audited = true
		}
		st++
	}

	if audited {
		e.mirror(writeCtx, env)
	}
	if len(errs) == 0 {
		e.metrics.EventPersisted()
	}
	return errors.Join(errs...)
}

func (e *Engine) runStage(ctx context.Context, st stage, env ingest.Envelope) error {
	switch st {
	case stageAudit:
		return e.writeAudit(ctx, env)
	case stageSweep:
		return e.sweep(ctx)
	case stagePoint:
		return e.writePoint(ctx, env)
	default:
		return nil
	}
}

func (e *Engine) writeAudit(ctx context.Context, env ingest.Envelope) error {
	if err := e.catalog.EnsureAudit(ctx); err != nil {
		return err
	}
	return e.catalog.Audit().Insert(ctx, audit.Entry{
		Timestamp:   env.Timestamp(),
		Source:      env.Source().String(),
		Destination: env.Destination().String(),
		Description: env.Name(),
		DPT:         string(env.Type()),
		Value:       audit.FormatValue(env.Value()),
	})
}

func (e *Engine) sweep(ctx context.Context) error {
	n, err := e.catalog.Audit().Sweep(ctx, audit.Cutoff(e.now(), e.retentionMonths))
	if err != nil {
		return err
	}
	if n > 0 {
		e.metrics.AuditSwept(n)
		e.logDebug("swept audit rows", "rows", n)
	}
	return nil
}

func (e *Engine) writePoint(ctx context.Context, env ingest.Envelope) error {
	v := env.Value()
	if !HasPointTable(env.Family()) || !v.IsNumeric() {
		return nil
	}

	table, err := TableName(env.Destination(), env.Type())
	if err != nil {
		return err
	}
	if err := e.catalog.EnsurePoint(ctx, table, v.Kind()); err != nil {
		return err
	}

	quoted, err := e.db.QuoteIdentifier(table)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTableName, err)
	}
	//nolint:gosec // identifier validated by QuoteIdentifier
	if _, err := e.db.ExecContext(ctx, "INSERT INTO "+quoted+" (ts, value) VALUES (?, ?)",
		env.Timestamp().UTC(), pointValue(v)); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func pointValue(v knx.Value) any {
	if i, ok := v.Int(); ok {
		return i
	}
	f, _ := v.Float()
	return f
}

func (e *Engine) mirror(ctx context.Context, env ingest.Envelope) {
	for _, m := range e.mirrors {
		if err := m.Mirror(ctx, env); err != nil {
			e.logWarn("mirror failed",
				"mirror", m.Name(),
				"ga", env.Destination().String(),
				"error", err,
			)
			e.metrics.MirrorFailed(m.Name())
		}
	}
}

func (e *Engine) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, e.healthTimeout)
	defer cancel()
	return e.db.HealthCheck(pingCtx)
}

// reconnect replaces the connection, dialling immediately and then every
// reconnectInterval until it succeeds or ctx is cancelled.
func (e *Engine) reconnect(ctx context.Context, cause error) error {
	e.state.Store(int32(StateReconnecting))
	e.metrics.SetConnected(false)
	e.logError("database connection lost", "error", cause)

	if err := e.db.Close(); err != nil {
		e.logDebug("closing lost connection", "error", err)
	}

	for attempt := 1; ; attempt++ {
		if e.isClosed() {
			return fmt.Errorf("%w: %w", ErrShutdown, ErrClosed)
		}
		db, err := e.dial(ctx)
		if err == nil {
			if !e.swapDB(db) {
				return fmt.Errorf("%w: %w", ErrShutdown, ErrClosed)
			}
			e.catalog.Reset(db)
			e.state.Store(int32(StateConnected))
			e.metrics.ReconnectAttempt(true)
			e.metrics.SetConnected(true)
			e.logInfo("database reconnected", "attempts", attempt)
			return nil
		}

		e.metrics.ReconnectAttempt(false)
		e.logWarn("database reconnect failed",
			"attempt", attempt,
			"retry_in", e.reconnectInterval.String(),
			"error", err,
		)
		if !sleep(ctx, e.reconnectInterval) {
			return fmt.Errorf("%w: %w", ErrShutdown, ctx.Err())
		}
	}
}

// sleep waits for d and reports whether it completed without ctx being
// cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, keysAndValues...)
	}
}

func (e *Engine) logError(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}

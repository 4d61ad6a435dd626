package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and intervals for knxd communication.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// readBufferSize bounds a single knxd message. Group packets are far
	// smaller; anything larger means the stream lost framing.
	readBufferSize = 256
)

// KNXDConfig holds knxd connection configuration.
//
//nolint:revive // KNXDConfig is clearer than DConfig for external use
type KNXDConfig struct {
	// Connection is the knxd connection URL.
	// Supported formats:
	//   - "unix:///run/knxd" (Unix socket)
	//   - "tcp://localhost:6720" (TCP)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle read deadline. A timeout is not an error; it
	// only lets the receive loop notice shutdown.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds, growing to 2 minutes.
	ReconnectInterval time.Duration

	// Location is the zone receive timestamps are expressed in.
	// Default: time.Local.
	Location *time.Location
}

// ListenerStats holds operational statistics.
type ListenerStats struct {
	TelegramsRx     uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Listener receives group telegrams from the knxd daemon.
//
// The handler runs on the receive goroutine, one telegram at a time, so
// telegrams reach it in bus order. It must not block.
//
// When the connection is lost the listener reconnects with exponential
// backoff until Close is called.
type Listener struct {
	cfg KNXDConfig

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	reconnecting atomic.Bool

	handler func(Telegram)
	logger  Logger

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time

	telegramsRx     atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Listen connects to knxd, opens group communication mode and starts the
// receive loop.
//
// The handler is set before the loop starts so no telegram received right
// after the handshake is lost. A nil handler discards telegrams.
func Listen(ctx context.Context, cfg KNXDConfig, handler func(Telegram), logger Logger) (*Listener, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	l := &Listener{
		cfg:     cfg,
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
	}
	l.now = func() time.Time { return time.Now().In(l.cfg.Location) }
	l.lastActivity.Store(time.Now().Unix())

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := l.dial(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	l.setConn(conn)

	l.wg.Add(1)
	go l.receiveLoop(network, address)

	return l, nil
}

// parseConnectionURL parses a knxd connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:6720"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// dial opens the socket and performs the EIB_OPEN_GROUPCON handshake.
func (l *Listener) dial(ctx context.Context, network, address string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	if err := openGroupCon(ctx, conn, l.cfg.ReadTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

// openGroupCon sends EIB_OPEN_GROUPCON and waits for knxd to echo it.
// write_only=0x00 keeps the receive direction open.
func openGroupCon(ctx context.Context, conn net.Conn, readTimeout time.Duration) error {
	msg := EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})

	if err := conn.SetWriteDeadline(deadline(ctx, defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(deadline(ctx, readTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, readBufferSize)
	msgType, _, err := readMessage(conn, buf)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
	return nil
}

// deadline returns now+d, or the context deadline if that is sooner.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(t) {
		return ctxDeadline
	}
	return t
}

// readMessage reads one framed knxd message into buf.
//
// Only a failure before the first byte of a frame keeps the underlying
// error (so an idle read timeout is still a timeout). Once a frame has been
// started, any failure is reported as ErrProtocolDesync.
func readMessage(r io.Reader, buf []byte) (uint16, []byte, error) {
	if n, err := io.ReadFull(r, buf[:2]); err != nil {
		if n > 0 {
			return 0, nil, fmt.Errorf("%w: read size: %v", ErrProtocolDesync, err) //nolint:errorlint // a partial frame is never idle
		}
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	msgSize := binary.BigEndian.Uint16(buf[:2])
	if msgSize < 2 {
		return 0, nil, fmt.Errorf("%w: invalid message size %d", ErrProtocolDesync, msgSize)
	}

	totalLen := 2 + int(msgSize)
	if totalLen > len(buf) {
		return 0, nil, fmt.Errorf("%w: message size %d exceeds buffer %d", ErrProtocolDesync, totalLen, len(buf))
	}

	if _, err := io.ReadFull(r, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("%w: read message: %v", ErrProtocolDesync, err) //nolint:errorlint // a partial frame is never idle
	}
	return ParseKNXDMessage(buf[:totalLen])
}

// receiveLoop reads telegrams until Close. On a fatal read error it
// reconnects and carries on.
func (l *Listener) receiveLoop(network, address string) {
	defer l.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		if l.isClosed() {
			return
		}

		conn := l.currentConn()
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			l.logError("set read deadline failed", err)
		}

		msgType, payload, err := readMessage(conn, buf)
		if err != nil {
			if l.isClosed() {
				return
			}
			// Idle bus. Timeouts inside a frame come back as desync.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.errorsTotal.Add(1)
			l.logError("read failed, reconnecting", err)
			if !l.reconnect(network, address) {
				return
			}
			continue
		}

		if msgType == EIBGroupPacket {
			l.handleGroupPacket(payload)
		}
	}
}

func (l *Listener) handleGroupPacket(payload []byte) {
	telegram, err := ParseTelegram(payload, l.now())
	if err != nil {
		l.errorsTotal.Add(1)
		l.logError("parse telegram failed", err)
		return
	}

	l.telegramsRx.Add(1)
	l.lastActivity.Store(time.Now().Unix())

	handler := l.handler
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logError("telegram handler panic", fmt.Errorf("%v", r))
		}
	}()
	handler(telegram)
}

// reconnect re-establishes the connection with exponential backoff.
// Returns false if Close was called meanwhile.
func (l *Listener) reconnect(network, address string) bool {
	l.reconnecting.Store(true)
	defer l.reconnecting.Store(false)

	l.connMu.Lock()
	l.connected = false
	if l.conn != nil {
		l.conn.Close()
	}
	l.connMu.Unlock()

	backoff := l.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if l.isClosed() {
			return false
		}

		l.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ConnectTimeout)
		conn, err := l.dial(ctx, network, address)
		cancel()
		if err == nil {
			l.setConn(conn)
			l.reconnectsTotal.Add(1)
			l.logInfo("reconnection successful", "total_reconnects", l.reconnectsTotal.Load())
			return true
		}

		l.errorsTotal.Add(1)
		l.logError("reconnect failed", err)

		select {
		case <-l.done:
			return false
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}
}

func (l *Listener) setConn(conn net.Conn) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.isClosed() {
		conn.Close()
		return
	}
	l.conn = conn
	l.connected = true
}

func (l *Listener) currentConn() net.Conn {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Close stops the receive loop and closes the connection. Safe to call
// more than once.
func (l *Listener) Close() error {
	l.doneOnce.Do(func() { close(l.done) })

	l.connMu.Lock()
	l.connected = false
	if l.conn != nil {
		l.conn.Close()
	}
	l.connMu.Unlock()

	l.wg.Wait()
	l.logInfo("knxd listener closed")
	return nil
}

// IsConnected returns true if connected to knxd.
func (l *Listener) IsConnected() bool {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.connected
}

// Stats returns current operational statistics.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		TelegramsRx:     l.telegramsRx.Load(),
		ErrorsTotal:     l.errorsTotal.Load(),
		ReconnectsTotal: l.reconnectsTotal.Load(),
		LastActivity:    time.Unix(l.lastActivity.Load(), 0),
		Connected:       l.IsConnected(),
		Reconnecting:    l.reconnecting.Load(),
	}
}

func (l *Listener) logInfo(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Info(msg, keysAndValues...)
	}
}

func (l *Listener) logError(msg string, err error) {
	if l.logger != nil {
		l.logger.Error(msg, "error", err)
	}
}

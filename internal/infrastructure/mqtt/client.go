package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxlog/internal/infrastructure/config"
)

// Client publishes knxlog state to an MQTT broker through paho.
//
// Thread Safety: all methods are safe for concurrent use. The zero value
// is a disconnected client whose Close is a no-op.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	hooksMu sync.RWMutex
	hooks   connectionHooks
}

// connectionHooks are optional observers of broker connection changes.
type connectionHooks struct {
	up   func()
	down func(err error)
}

// Connect dials the broker and waits up to defaultConnectTimeout for the
// session. The last will marks knxlog offline if the process dies; every
// (re)connect republishes the retained online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.up() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.down(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// SetConnectRetry keeps dialling in the background; stop it.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: no session with %s:%d after %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs on a paho goroutine and may lag behind.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) up() {
	c.connected.Store(true)
	c.client.Publish(c.topics.SystemStatus(), c.qos(), true, c.status(StatusOnline, ""))

	c.hooksMu.RLock()
	fn := c.hooks.up
	c.hooksMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) down(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	fn := c.hooks.down
	c.hooksMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // config validates 0-2
}

func (c *Client) status(s, reason string) []byte {
	return buildStatusPayload(c.cfg.Broker.ClientID, s, reason)
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close marks knxlog offline with reason "graceful_shutdown" and
// disconnects, giving in-flight publishes defaultDisconnectQuiesce.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.client.Publish(c.topics.SystemStatus(), c.qos(), true, c.status(StatusOffline, "graceful_shutdown")).
			WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers fn for the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.hooks.up = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers fn for connection loss.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.hooks.down = fn
	c.hooksMu.Unlock()
}

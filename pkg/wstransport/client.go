package wstransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"

	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/logging"
)

const (
	// DefaultReconnectDelay is the first delay before reconnecting.
	DefaultReconnectDelay = 500 * time.Millisecond
	// DefaultMaxReconnectDelay caps the exponential backoff.
	DefaultMaxReconnectDelay = 30 * time.Second
	// DefaultClientReadLimit bounds inbound frames; body replies can be large.
	DefaultClientReadLimit = 64 << 20
)

// ClientConfig configures an observer Client.
type ClientConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Header is sent with every handshake.
	Header http.Header
	// Binary sends frames as binary messages; use it with the CBOR codec.
	Binary bool
	// AutoReconnect keeps reconnecting after a disconnect.
	AutoReconnect bool
	// ReconnectDelay and MaxReconnectDelay bound the backoff.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// QueueSize is the outbound queue size.
	QueueSize int
	// OnConnect and OnDisconnect are called on every (re)connect and
	// disconnect.
	OnConnect    func(Info)
	OnDisconnect func(Info, error)
	// Logger for diagnostics (nil = discard).
	Logger *slog.Logger
}

func (c *ClientConfig) withDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

// Client connects a bridge.Receiver to a Server. After every (re)connect it
// calls Receiver.Resync so nothing sent while disconnected is lost.
type Client struct {
	cfg      ClientConfig
	receiver *bridge.Receiver

	mu         sync.Mutex
	current    *session
	connected  atomic.Bool
	reconnects atomic.Int32
	log        *slog.Logger
}

// NewClient creates a Client. Run starts it.
func NewClient(cfg ClientConfig, receiver *bridge.Receiver) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if receiver == nil {
		return nil, errors.New("receiver is required")
	}
	cfg.withDefaults()
	return &Client{cfg: cfg, receiver: receiver, log: cfg.Logger}, nil
}

// Dial creates a Client and runs it until ctx is done.
func Dial(ctx context.Context, cfg ClientConfig, receiver *bridge.Receiver) error {
	c, err := NewClient(cfg, receiver)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// Run connects and serves until ctx is done, or until the first disconnect
// when AutoReconnect is off.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay
	for {
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.cfg.AutoReconnect {
			return err
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		c.log.Debug("reconnecting", "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		c.reconnects.Add(1)

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce serves one connection. connected reports whether the handshake
// succeeded.
func (c *Client) runOnce(ctx context.Context) (connected bool, err error) {
	conn, resp, err := ws.Dial(ctx, c.cfg.URL, &ws.DialOptions{HTTPHeader: c.cfg.Header})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(DefaultClientReadLimit)

	sess := newSession(conn, c.cfg.Binary, c.cfg.QueueSize, 0, c.log)
	stop := context.AfterFunc(ctx, func() { sess.close(ws.StatusNormalClosure, "observer stopping") })
	defer stop()

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.receiver.SetTransport(sess)
	c.connected.Store(true)

	go sess.writeLoop()
	if err := c.receiver.Resync(); err != nil {
		sess.log.Warn("resync failed", "error", err)
	}
	sess.log.Info("connected", "url", c.cfg.URL, "lastId", c.receiver.LastID())
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(sess.info())
	}

	err = sess.readLoop(c.receiver.Receive)

	c.connected.Store(false)
	c.receiver.SetTransport(nil)
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	sess.close(ws.StatusNormalClosure, "")

	sess.log.Info("disconnected", "reason", closeReason(err))
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(sess.info(), err)
	}
	return true, err
}

// IsConnected reports whether the client currently has a connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Reconnects returns how many reconnect attempts have been made.
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// Disconnect drops the current connection. With AutoReconnect the client
// connects again after the backoff delay.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess != nil {
		sess.close(ws.StatusNormalClosure, "client disconnect")
	}
}

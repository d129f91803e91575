package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/roboproto"
)

// LocalPort is the fixed TCP port devices listen on for direct local
// control.
const LocalPort = 58867

// readBufferSize matches the largest frame devices emit locally.
const readBufferSize = 4096

// LocalChannel exchanges messages with one device over a direct TCP
// connection on the local network. Unlike the broker path there is no
// supervisory reconnect: a lost connection fails all in-flight commands and
// subsequent sends until the caller connects again.
type LocalChannel struct {
	addr   string
	port   int
	encode roboproto.Encoder
	decode roboproto.Decoder

	table *rpcTable
	subs  callbackSet

	mu        sync.Mutex
	connectMu sync.Mutex // serializes dials so concurrent Connects share one connection
	conn      net.Conn   // nil while disconnected
	closed    bool
}

var _ Channel = (*LocalChannel)(nil)

// NewLocalChannel builds a channel for the device at the given local IP.
// The channel is disconnected until Connect succeeds.
func NewLocalChannel(addr string, enc roboproto.Encoder, dec roboproto.Decoder) *LocalChannel {
	return &LocalChannel{
		addr:   addr,
		port:   LocalPort,
		encode: enc,
		decode: dec,
		table:  newRPCTable(),
	}
}

// Connect dials the device. A dial failure is returned synchronously and
// leaves the channel disconnected; it is safe to call Connect again.
func (c *LocalChannel) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewSessionError("channel is closed", nil)
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.addr, fmt.Sprintf("%d", c.port)))
	if err != nil {
		return NewConnectionError(fmt.Sprintf("failed to connect to %s", c.addr), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return NewSessionError("channel is closed", nil)
	}
	c.conn = conn
	c.mu.Unlock()

	logging.Debug("local connection established", zap.String("addr", c.addr))
	go c.readLoop(conn)
	return nil
}

// Connected reports whether a TCP connection is currently established.
func (c *LocalChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// readLoop drains the connection until it fails, feeding the stateful
// decoder. One loop runs per physical connection.
func (c *LocalChannel) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, msg := range c.decode(buf[:n]) {
				c.routeMessage(msg)
			}
		}
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
	}
}

func (c *LocalChannel) routeMessage(msg roboproto.Message) {
	if id, ok := msg.RequestID(); ok {
		m := msg
		if !c.table.resolve(id, &m) {
			logging.Debug("local reply with no waiting command", zap.Int("request_id", id))
		}
	}
	c.subs.dispatch(msg)
}

// connectionLost tears down state for a failed connection. In-flight
// commands fail immediately rather than waiting out their timeouts.
func (c *LocalChannel) connectionLost(conn net.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.table.failAll()
	if !closed {
		logging.Warn("local connection lost", zap.String("addr", c.addr), zap.Error(err))
	}
}

// Subscribe registers a callback for all inbound device messages. The
// registration survives reconnects.
func (c *LocalChannel) Subscribe(cb Callback) (func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, NewSessionError("channel is closed", nil)
	}
	return c.subs.add(cb), nil
}

// Send writes the message to the device and waits for the correlated
// reply. Fails fast when disconnected.
func (c *LocalChannel) Send(ctx context.Context, msg roboproto.Message, timeout time.Duration) (*roboproto.Message, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	id, ok := msg.RequestID()
	if !ok {
		return nil, NewInvalidRequestError("message carries no request id", nil)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, NewConnectionError("not connected to device", nil)
	}

	ch, err := c.table.add(id)
	if err != nil {
		return nil, err
	}

	data, err := c.encode(msg)
	if err != nil {
		c.table.remove(id)
		return nil, NewInvalidRequestError("failed to encode message", err)
	}
	if _, err := conn.Write(data); err != nil {
		c.table.remove(id)
		return nil, NewConnectionError("failed to write command", err)
	}
	if msg.Retry != nil {
		logging.Debug("sent retryable command",
			zap.String("method", msg.Retry.Method),
			zap.Int("retry_id", msg.Retry.RetryID),
		)
	}

	return c.table.awaitReply(ctx, id, ch, timeout)
}

// Close disconnects and fails all in-flight commands. Idempotent.
func (c *LocalChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.table.failAll()
	return nil
}

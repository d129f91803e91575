package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/mqttx"
	"github.com/openrovo/rovo/roboproto"
)

// MQTTChannel exchanges messages with one device through the account's
// shared broker session. Commands are published to the device's inbound
// topic; the device publishes replies and unsolicited updates on its
// outbound topic.
type MQTTChannel struct {
	session  mqttx.Session
	pubTopic string
	subTopic string
	encode   roboproto.Encoder
	decode   roboproto.Decoder

	table *rpcTable
	subs  callbackSet

	mu     sync.Mutex
	unsub  func() // session unsubscribe, nil until first use
	closed bool
}

var _ Channel = (*MQTTChannel)(nil)

// NewMQTTChannel builds a channel for the device with the given duid.
// realm and hashedUser are the broker topic segments of the account (the
// rriot realm id and the hashed broker username). The session is shared
// with the other devices of the account and is not owned by the channel.
func NewMQTTChannel(session mqttx.Session, realm, hashedUser, duid string, enc roboproto.Encoder, dec roboproto.Decoder) *MQTTChannel {
	return &MQTTChannel{
		session:  session,
		pubTopic: fmt.Sprintf("rr/m/i/%s/%s/%s", realm, hashedUser, duid),
		subTopic: fmt.Sprintf("rr/m/o/%s/%s/%s", realm, hashedUser, duid),
		encode:   enc,
		decode:   dec,
		table:    newRPCTable(),
	}
}

// ensureSubscribed registers the device topic listener with the session on
// first use. The session keeps the registration across reconnects, so this
// happens at most once per channel.
func (c *MQTTChannel) ensureSubscribed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewSessionError("channel is closed", nil)
	}
	if c.unsub != nil {
		return nil
	}
	unsub, err := c.session.Subscribe(c.subTopic, c.handleRaw)
	if err != nil {
		return NewConnectionError("failed to subscribe to device topic", err)
	}
	c.unsub = unsub
	return nil
}

// handleRaw decodes a broker payload and routes the resulting messages:
// replies complete their waiting command, and every message goes to the
// subscribers.
func (c *MQTTChannel) handleRaw(payload []byte) {
	msgs := c.decode(payload)
	if len(msgs) == 0 {
		logging.Debug("undecodable payload on device topic",
			zap.String("topic", c.subTopic),
			zap.Int("len", len(payload)),
		)
		return
	}
	for _, msg := range msgs {
		if id, ok := msg.RequestID(); ok {
			m := msg
			if !c.table.resolve(id, &m) {
				logging.Debug("reply with no waiting command", zap.Int("request_id", id))
			}
		}
		c.subs.dispatch(msg)
	}
}

// Subscribe registers a callback for all inbound device messages.
func (c *MQTTChannel) Subscribe(cb Callback) (func(), error) {
	if err := c.ensureSubscribed(); err != nil {
		return nil, err
	}
	return c.subs.add(cb), nil
}

// Send publishes the message and waits for the correlated reply.
func (c *MQTTChannel) Send(ctx context.Context, msg roboproto.Message, timeout time.Duration) (*roboproto.Message, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if err := c.ensureSubscribed(); err != nil {
		return nil, err
	}
	id, ok := msg.RequestID()
	if !ok {
		return nil, NewInvalidRequestError("message carries no request id", nil)
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
	if err := c.session.Publish(c.pubTopic, data); err != nil {
		c.table.remove(id)
		return nil, NewConnectionError("failed to publish command", err)
	}
	logging.Debug("command sent",
		zap.String("topic", c.pubTopic),
		zap.Int("request_id", id),
		zap.Stringer("protocol", msg.Protocol),
	)

	return c.table.awaitReply(ctx, id, ch, timeout)
}

// Close removes the topic listener and fails all in-flight commands. The
// shared session is left running.
func (c *MQTTChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.table.failAll()
	return nil
}

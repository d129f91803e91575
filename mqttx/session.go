package mqttx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/openrovo/rovo/internal/logging"
)

// Reconnect backoff parameters. The interval multiplies after every
// failed cycle and resets to the minimum on a successful connection.
const (
	minBackoffInterval = 10 * time.Second
	maxBackoffInterval = 30 * time.Minute
	backoffMultiplier  = 1.5
)

// ErrNotConnected is returned by Publish when no broker connection is
// currently established. Callers must not block waiting for reconnection.
var ErrNotConnected = errors.New("mqtt session not connected")

// Listener receives the raw payload of every message published on the
// subscribed topic. It runs on the session's dispatch goroutine and
// should hand work off rather than block.
type Listener func(payload []byte)

// Session is the broker connection shared by all devices of one account.
type Session interface {
	// Connected reports whether a broker connection is currently
	// established, for passive polling.
	Connected() bool

	// Subscribe registers the listener for a topic. If connected, the
	// protocol-level subscribe is issued immediately; otherwise it is
	// deferred until the next (re)connection. The returned function
	// removes exactly that listener.
	Subscribe(topic string, l Listener) (func(), error)

	// Publish sends a message on the topic, failing fast with
	// ErrNotConnected when no connection is established.
	Publish(topic string, payload []byte) error

	// Close terminates the supervisory task and closes the connection.
	// Idempotent, and safe to call while disconnected.
	Close() error
}

type listenerEntry struct {
	fn Listener
}

// MQTTSession is the production Session implementation, backed by one
// paho client at a time under a supervisory goroutine.
type MQTTSession struct {
	params Params

	mu        sync.Mutex
	listeners map[string][]*listenerEntry
	client    brokerClient // nil while disconnected

	connected atomic.Bool
	started   atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
	doneOnce  sync.Once
	done      chan struct{}

	// Seams for tests
	dial       dialFunc
	newBackoff func() *backoff.ExponentialBackOff
}

var _ Session = (*MQTTSession)(nil)

// NewSession creates a session for the given broker parameters. The
// session does nothing until Start is called.
func NewSession(params Params) *MQTTSession {
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	return &MQTTSession{
		params:     params,
		listeners:  make(map[string][]*listenerEntry),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
		dial:       pahoDial,
		newBackoff: newBackoffPolicy,
	}
}

func newBackoffPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoffInterval
	b.Multiplier = backoffMultiplier
	b.MaxInterval = maxBackoffInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Start launches the supervisory goroutine and blocks until the first
// connection attempt succeeds or fails. A first-attempt failure is
// returned to the caller and the session stays down: the caller owns the
// decision to retry. After the first success, all subsequent faults are
// retried internally with backoff and never surfaced.
func (s *MQTTSession) Start(ctx context.Context) error {
	select {
	case <-s.closed:
		return errors.New("mqtt session is closed")
	default:
	}
	s.started.Store(true)
	first := make(chan error, 1)
	go s.run(first)
	select {
	case err := <-first:
		if err != nil {
			return fmt.Errorf("error starting mqtt session: %w", err)
		}
		logging.Debug("MQTT session started", zap.String("broker", s.params.BrokerURL()))
		return nil
	case <-s.done:
		return errors.New("mqtt session is closed")
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

// run is the supervisory loop. It owns the physical connection handle
// exclusively: callers only reach it through Publish/Subscribe, which
// read the handle under the session mutex.
func (s *MQTTSession) run(first chan<- error) {
	defer s.doneOnce.Do(func() { close(s.done) })
	policy := s.newBackoff()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		lost := make(chan error, 1)
		onLost := func(err error) {
			select {
			case lost <- err:
			default:
			}
		}

		client, err := s.dial(s.params, s.route, onLost)
		if err == nil {
			// Re-establish every registered subscription before
			// reporting connected, so a reconnect is invisible to
			// subscribers beyond the outage window.
			err = s.attach(client)
			if err != nil {
				client.Disconnect()
			}
		}
		if err != nil {
			if first != nil {
				first <- err
				return
			}
			wait := policy.NextBackOff()
			logging.Warn("broker connection failed, backing off",
				zap.Error(err),
				zap.Duration("retry_in", wait),
			)
			select {
			case <-s.closed:
				return
			case <-time.After(wait):
			}
			continue
		}

		s.connected.Store(true)
		policy.Reset()
		if first != nil {
			first <- nil
			first = nil
		}
		logging.Info("connected to broker", zap.String("broker", s.params.BrokerURL()))

		select {
		case <-s.closed:
			s.teardown(client)
			return
		case err := <-lost:
			s.teardown(client)
			wait := policy.NextBackOff()
			logging.Warn("broker connection lost, reconnecting",
				zap.Error(err),
				zap.Duration("retry_in", wait),
			)
			select {
			case <-s.closed:
				return
			case <-time.After(wait):
			}
		}
	}
}

func (s *MQTTSession) teardown(client brokerClient) {
	s.connected.Store(false)
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	client.Disconnect()
}

// attach re-issues the protocol-level subscribe for every registered
// topic, then publishes the connection handle. Topics registered while a
// pass is in flight are caught by the next pass; the handle is only
// stored once the registry snapshot is stable, under the same lock as
// the emptiness check, so no Subscribe call can land between the
// snapshot and the handle becoming visible.
func (s *MQTTSession) attach(client brokerClient) error {
	subscribed := make(map[string]bool)
	for {
		s.mu.Lock()
		var pending []string
		for topic := range s.listeners {
			if !subscribed[topic] {
				pending = append(pending, topic)
			}
		}
		if len(pending) == 0 {
			s.client = client
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		for _, topic := range pending {
			logging.Debug("re-establishing subscription", zap.String("topic", topic))
			if err := client.Subscribe(topic); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
			}
			subscribed[topic] = true
		}
	}
}

// Connected reports whether the session currently has a broker connection.
func (s *MQTTSession) Connected() bool {
	return s.connected.Load()
}

// Subscribe registers a listener for the topic. See Session.Subscribe.
func (s *MQTTSession) Subscribe(topic string, l Listener) (func(), error) {
	entry := &listenerEntry{fn: l}

	s.mu.Lock()
	s.listeners[topic] = append(s.listeners[topic], entry)
	firstForTopic := len(s.listeners[topic]) == 1
	client := s.client
	s.mu.Unlock()

	if client != nil && firstForTopic {
		if err := client.Subscribe(topic); err != nil {
			s.removeListener(topic, entry)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	} else if client == nil {
		logging.Debug("not connected, subscription deferred", zap.String("topic", topic))
	}

	return func() { s.removeListener(topic, entry) }, nil
}

func (s *MQTTSession) removeListener(topic string, entry *listenerEntry) {
	s.mu.Lock()
	entries := s.listeners[topic]
	for i, e := range entries {
		if e == entry {
			s.listeners[topic] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	lastForTopic := len(s.listeners[topic]) == 0
	if lastForTopic {
		delete(s.listeners, topic)
	}
	client := s.client
	s.mu.Unlock()

	if lastForTopic && client != nil {
		// Best effort: a failed protocol-level unsubscribe only costs
		// discarded deliveries.
		if err := client.Unsubscribe(topic); err != nil {
			logging.Warn("failed to unsubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Publish sends a message on the topic. See Session.Publish.
func (s *MQTTSession) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	if err := client.Publish(topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// route dispatches an inbound message to every listener registered for
// its topic. Listener panics are isolated and logged, never allowed to
// break delivery to other listeners.
func (s *MQTTSession) route(topic string, payload []byte) {
	s.mu.Lock()
	entries := append([]*listenerEntry(nil), s.listeners[topic]...)
	s.mu.Unlock()

	if len(entries) == 0 {
		logging.Debug("message on topic with no listeners", zap.String("topic", topic))
		return
	}
	for _, entry := range entries {
		invokeListener(topic, entry.fn, payload)
	}
}

func invokeListener(topic string, l Listener, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic in subscriber callback",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()
	l(payload)
}

// Close terminates the supervisory task and closes the connection.
func (s *MQTTSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if !s.started.Load() {
			// run was never launched, nothing else will release done
			s.doneOnce.Do(func() { close(s.done) })
		}
	})
	<-s.done
	s.connected.Store(false)
	return nil
}

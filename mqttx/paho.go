package mqttx

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// keepAlive matches the vendor app's broker keepalive.
const keepAlive = 60 * time.Second

// brokerClient is the session's view of one live broker connection. It is
// a seam so session tests can run without a broker; the production
// implementation wraps a paho client.
type brokerClient interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	Disconnect()
}

// dialFunc establishes one broker connection. onMessage receives every
// inbound message, onLost fires once when the connection drops.
type dialFunc func(p Params, onMessage func(topic string, payload []byte), onLost func(error)) (brokerClient, error)

// pahoDial is the production dialFunc. Paho's own auto-reconnect stays
// disabled: the supervisory loop owns retry policy, because the session
// must gate Connected on resubscribe completion.
func pahoDial(p Params, onMessage func(string, []byte), onLost func(error)) (brokerClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(p.BrokerURL()).
		SetClientID(fmt.Sprintf("rovo-%s", uuid.NewString()[:8])).
		SetUsername(p.Username).
		SetPassword(p.Password).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(p.Timeout).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
			onMessage(m.Topic(), m.Payload())
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	if p.TLS {
		opts.SetTLSConfig(&tls.Config{})
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(client.Connect(), p.Timeout); err != nil {
		return nil, fmt.Errorf("broker connect failed: %w", err)
	}
	return &pahoClient{client: client, timeout: p.Timeout, onMessage: onMessage}, nil
}

type pahoClient struct {
	client    mqtt.Client
	timeout   time.Duration
	onMessage func(topic string, payload []byte)
}

func (c *pahoClient) Subscribe(topic string) error {
	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		c.onMessage(m.Topic(), m.Payload())
	})
	return waitToken(token, c.timeout)
}

func (c *pahoClient) Unsubscribe(topic string) error {
	return waitToken(c.client.Unsubscribe(topic), c.timeout)
}

func (c *pahoClient) Publish(topic string, payload []byte) error {
	return waitToken(c.client.Publish(topic, 0, false, payload), c.timeout)
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}

func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.New("broker operation timed out")
	}
	return token.Error()
}

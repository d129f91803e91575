// Package mqttx maintains the shared broker connection for one account.
//
// A Session owns exactly one physical MQTT connection lifecycle from
// Start to Close. The underlying connection may be replaced many times by
// the supervisory goroutine (reconnects with exponential backoff), but
// subscribers only ever observe a transient Connected() == false window:
// the topic registry is durable and every registered topic is resubscribed
// before the session reports connected again.
package mqttx

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/openrovo/rovo/account"
)

// DefaultTimeout bounds individual broker operations (connect, subscribe,
// publish acknowledgements).
const DefaultTimeout = 30 * time.Second

// Params describe one account's broker connection.
type Params struct {
	// Host is the broker hostname.
	Host string

	// Port is the broker port.
	Port int

	// TLS enables a TLS connection to the broker.
	TLS bool

	// Username is the hashed account user for broker authentication. It
	// is also the middle segment of the per-device topics.
	Username string

	// Password is the hashed account secret.
	Password string

	// Timeout bounds individual broker operations.
	Timeout time.Duration
}

// BrokerURL renders the paho broker URL.
func (p Params) BrokerURL() string {
	scheme := "tcp"
	if p.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}

// ParamsFromRriot derives broker parameters from the account's rriot
// bundle: the endpoint comes from the reference URL, the credentials are
// salted md5 digests of the realm/secret with the account key.
func ParamsFromRriot(r account.Rriot) (Params, error) {
	u, err := url.Parse(r.R.M)
	if err != nil {
		return Params{}, fmt.Errorf("invalid broker reference URL %q: %w", r.R.M, err)
	}
	if u.Hostname() == "" {
		return Params{}, fmt.Errorf("broker reference URL %q has no hostname", r.R.M)
	}
	port := 8883
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Params{}, fmt.Errorf("invalid broker port in %q: %w", r.R.M, err)
		}
	}
	return Params{
		Host:     u.Hostname(),
		Port:     port,
		TLS:      u.Scheme != "tcp" && u.Scheme != "mqtt",
		Username: hashedUser(r),
		Password: hashedPassword(r),
		Timeout:  DefaultTimeout,
	}, nil
}

// hashedUser is md5hex(u + ":" + k) characters 2..10.
func hashedUser(r account.Rriot) string {
	return md5hex(r.U + ":" + r.K)[2:10]
}

// hashedPassword is md5hex(s + ":" + k) from character 16.
func hashedPassword(r account.Rriot) string {
	return md5hex(r.S + ":" + r.K)[16:]
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Package channel exchanges protocol messages with a single device.
//
// A Channel pairs an outbound send path with an inbound message stream and
// correlates RPC replies to in-flight commands by request id. Two
// implementations exist: MQTTChannel rides the shared broker session of the
// account, LocalChannel speaks directly to the device over TCP. Both share
// the same correlation table and subscriber semantics, so callers can treat
// them interchangeably.
package channel

import (
	"context"
	"time"

	"github.com/openrovo/rovo/roboproto"
)

// Callback receives every inbound message the channel decodes, including
// replies that were also delivered to a waiting Send. It runs on the
// channel's dispatch path and should hand work off rather than block.
type Callback func(msg roboproto.Message)

// Channel is a bidirectional message pipe to one device.
type Channel interface {
	// Subscribe registers the callback for all inbound messages. The
	// returned function removes exactly that callback.
	Subscribe(cb Callback) (func(), error)

	// Send transmits the message and waits for the reply carrying the same
	// request id. The timeout bounds the wait; the context can cancel it
	// earlier. At most one command per request id may be in flight.
	Send(ctx context.Context, msg roboproto.Message, timeout time.Duration) (*roboproto.Message, error)

	// Close releases the channel. In-flight commands fail with a session
	// error. Idempotent.
	Close() error
}

// DefaultSendTimeout is used when a caller passes a non-positive timeout.
const DefaultSendTimeout = 10 * time.Second

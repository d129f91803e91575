package roboproto

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Protocol identifies the traffic class of a message. The values are fixed
// by the device firmware and shared between the MQTT and local transports.
type Protocol uint16

const (
	ProtocolHelloRequest    Protocol = 0
	ProtocolHelloResponse   Protocol = 1
	ProtocolPingRequest     Protocol = 2
	ProtocolPingResponse    Protocol = 3
	ProtocolGeneralRequest  Protocol = 4
	ProtocolGeneralResponse Protocol = 5
	ProtocolRPCRequest      Protocol = 101
	ProtocolRPCResponse     Protocol = 102
	ProtocolMapResponse     Protocol = 301
)

// String returns a human-readable name for the protocol tag
func (p Protocol) String() string {
	switch p {
	case ProtocolHelloRequest:
		return "hello_request"
	case ProtocolHelloResponse:
		return "hello_response"
	case ProtocolPingRequest:
		return "ping_request"
	case ProtocolPingResponse:
		return "ping_response"
	case ProtocolGeneralRequest:
		return "general_request"
	case ProtocolGeneralResponse:
		return "general_response"
	case ProtocolRPCRequest:
		return "rpc_request"
	case ProtocolRPCResponse:
		return "rpc_response"
	case ProtocolMapResponse:
		return "map_response"
	default:
		return fmt.Sprintf("protocol(%d)", uint16(p))
	}
}

// MessageRetry describes how a mutating local command can be re-issued via
// the retry_request method when the device answers "retry". Only attached
// to local messages whose method supports it.
type MessageRetry struct {
	Method  string
	RetryID int
}

// Message is the logical unit exchanged with a device. It is immutable
// once constructed: accessors parse the payload but never modify it.
type Message struct {
	// Protocol is the traffic class tag.
	Protocol Protocol

	// Timestamp is the envelope creation time in Unix seconds.
	Timestamp int64

	// Payload is the raw (pre-cipher) envelope body.
	Payload []byte

	// Retry is the optional retry descriptor for local mutating commands.
	Retry *MessageRetry
}

// NewMessage builds a message with the current timestamp.
func NewMessage(p Protocol, payload []byte) Message {
	return Message{
		Protocol:  p,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// envelope is the outer payload shape: numbered data point slots carrying
// inner JSON-encoded strings, plus the send timestamp.
type envelope struct {
	DPS map[string]string `json:"dps"`
	T   int64             `json:"t"`
}

// innerBody is the subset of the inner request/response object needed for
// correlation and routing.
type innerBody struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

// dataPoints parses the outer envelope. Returns nil when the payload is
// not a well-formed envelope.
func (m Message) dataPoints() map[string]string {
	if len(m.Payload) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		return nil
	}
	return env.DPS
}

// inner returns the first data point slot (in slot-number order) whose
// value parses as an inner body carrying a request id.
func (m Message) inner() (*innerBody, bool) {
	dps := m.dataPoints()
	if len(dps) == 0 {
		return nil, false
	}
	slots := make([]string, 0, len(dps))
	for slot := range dps {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		var body innerBody
		if err := json.Unmarshal([]byte(dps[slot]), &body); err != nil {
			continue
		}
		if body.ID != 0 {
			return &body, true
		}
	}
	return nil, false
}

// RequestID returns the application-level correlation id carried in the
// payload, or false when the payload has none. A malformed payload is
// treated the same as an absent id.
func (m Message) RequestID() (int, bool) {
	body, ok := m.inner()
	if !ok {
		return 0, false
	}
	return body.ID, true
}

// Method returns the request method name, or false when absent.
func (m Message) Method() (string, bool) {
	body, ok := m.inner()
	if !ok || body.Method == "" {
		return "", false
	}
	return body.Method, true
}

// Params returns the raw request params, or false when absent.
func (m Message) Params() (json.RawMessage, bool) {
	body, ok := m.inner()
	if !ok || len(body.Params) == 0 {
		return nil, false
	}
	return body.Params, true
}

// RPCResponse is the decoded inner body of a response data point.
type RPCResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// responseDataPoint is the slot devices use for RPC replies.
const responseDataPoint = "102"

// RPCResult extracts the RPC response body from the payload's response
// slot. Returns an error when the payload is not a response envelope.
func (m Message) RPCResult() (*RPCResponse, error) {
	dps := m.dataPoints()
	raw, ok := dps[responseDataPoint]
	if !ok {
		return nil, fmt.Errorf("payload has no %q data point", responseDataPoint)
	}
	var resp RPCResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("malformed response data point: %w", err)
	}
	// Single-element result lists are unwrapped: the firmware wraps most
	// scalar and object results in a one-element array.
	var list []json.RawMessage
	if err := json.Unmarshal(resp.Result, &list); err == nil && len(list) == 1 {
		resp.Result = list[0]
	}
	return &resp, nil
}

// String summarizes the message for logging without dumping the payload.
func (m Message) String() string {
	id, _ := m.RequestID()
	return fmt.Sprintf("Message{protocol=%s, t=%d, id=%d, len=%d}", m.Protocol, m.Timestamp, id, len(m.Payload))
}

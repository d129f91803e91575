package roboproto

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	mathrand "math/rand/v2"
	"time"
)

const (
	// requestDataPoint is the slot commands are sent in.
	requestDataPoint = "101"

	// Bounds of the caller-generated request id namespace. The vendor app
	// uses the same range; ids outside it are rejected by some firmwares.
	minRequestID = 10000
	maxRequestID = 32767
)

// MethodRetryRequest re-issues a previously sent mutating command. Gated
// by the RPCRetry capability flag.
const MethodRetryRequest = "retry_request"

// NextRequestID returns a fresh correlation id from the bounded request id
// namespace. Collisions across concurrent commands are possible and are
// surfaced by the channel as a duplicate-request error.
func NextRequestID() int {
	return minRequestID + mathrand.IntN(maxRequestID-minRequestID+1)
}

// SecurityData is the authenticated endpoint/nonce pair attached to
// commands that require it (all commands sent over the broker).
type SecurityData struct {
	Endpoint string
	Nonce    []byte
}

// NewSecurityData derives the security material for a session from the
// account's rriot key: the endpoint is the base64 of md5(key) bytes 8..14,
// the nonce is 16 random bytes.
func NewSecurityData(rriotKey string) (SecurityData, error) {
	sum := md5.Sum([]byte(rriotKey))
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return SecurityData{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return SecurityData{
		Endpoint: base64.StdEncoding.EncodeToString(sum[8:14]),
		Nonce:    nonce,
	}, nil
}

type securityBody struct {
	Endpoint string `json:"endpoint"`
	Nonce    string `json:"nonce"`
}

type requestBody struct {
	ID       int           `json:"id"`
	Method   string        `json:"method"`
	Params   any           `json:"params"`
	Security *securityBody `json:"security,omitempty"`
}

// Request is a version-1 command before envelope encoding.
type Request struct {
	// ID is the correlation id. NewRequest fills it from NextRequestID.
	ID int

	// Method is the vendor command name, e.g. "get_status".
	Method string

	// Params is the method argument list or object. Nil encodes as [].
	Params any

	// Timestamp is the envelope timestamp in Unix seconds.
	Timestamp int64
}

// NewRequest builds a request with a fresh id and the current timestamp.
func NewRequest(method string, params any) Request {
	return Request{
		ID:        NextRequestID(),
		Method:    method,
		Params:    params,
		Timestamp: time.Now().Unix(),
	}
}

// payload serializes the request into the dps envelope, attaching the
// security block when provided.
func (r Request) payload(sec *SecurityData) ([]byte, error) {
	params := r.Params
	if params == nil {
		params = []any{}
	}
	body := requestBody{ID: r.ID, Method: r.Method, Params: params}
	if sec != nil {
		body.Security = &securityBody{
			Endpoint: sec.Endpoint,
			Nonce:    hex.EncodeToString(sec.Nonce),
		}
	}
	inner, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	outer, err := json.Marshal(envelope{
		DPS: map[string]string{requestDataPoint: string(inner)},
		T:   r.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request envelope: %w", err)
	}
	return outer, nil
}

// MQTTMessage renders the request for the broker transport. Broker
// commands always carry security data and use the RPC protocol tag.
func (r Request) MQTTMessage(sec SecurityData) (Message, error) {
	payload, err := r.payload(&sec)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Protocol:  ProtocolRPCRequest,
		Timestamp: r.Timestamp,
		Payload:   payload,
	}, nil
}

// LocalMessage renders the request for the local TCP transport. Local
// commands are unauthenticated and use the general protocol tag. A
// retry_request command carries a retry descriptor so the channel can
// match the follow-up.
func (r Request) LocalMessage() (Message, error) {
	payload, err := r.payload(nil)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Protocol:  ProtocolGeneralRequest,
		Timestamp: r.Timestamp,
		Payload:   payload,
	}
	if r.Method == MethodRetryRequest {
		if params, ok := r.Params.(map[string]any); ok {
			if retryID, ok := intValue(params["retry_id"]); ok {
				msg.Retry = &MessageRetry{Method: r.Method, RetryID: retryID}
			}
		}
	}
	return msg, nil
}

// intValue accepts the integer renderings a params map can carry,
// including the float64 and json.Number forms a json decode produces.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

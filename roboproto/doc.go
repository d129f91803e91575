// Package roboproto defines the logical message envelope exchanged with
// Roborock-style vacuums and the version-1 request format carried inside it.
//
// A Message is the unit handed to and received from the wire codec. The
// codec itself (the per-device cipher that turns a Message into transport
// bytes and back) is an external collaborator: this package only defines
// the Encoder and Decoder function types it must satisfy, plus a plaintext
// codec used in tests and on devices with the cipher disabled.
//
// # Envelope
//
// Version-1 requests are JSON of the form
//
//	{"dps":{"101":"{\"id\":12345,\"method\":\"get_status\",\"params\":[]}"},"t":1700000000}
//
// where the inner object is itself JSON-encoded into the numbered data
// point slot. Responses arrive in slot "102" with the same id, which is
// the only correlation primitive the transport offers.
//
// # Request ids
//
// Request ids are caller-generated from a bounded range (10000..32767).
// They are the key of the RPC correlation table in package channel, so a
// caller must not reuse an id while a command with that id is in flight.
package roboproto

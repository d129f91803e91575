package roboproto

import (
	"encoding/binary"
	"hash/crc32"
)

// Encoder turns a logical message into transport bytes. Implementations
// own the per-device cipher; this package never inspects it.
type Encoder func(Message) ([]byte, error)

// Decoder turns transport bytes into zero or more logical messages. A
// decoder is stateful: it buffers partial frames across calls, so each
// connection needs its own instance. Malformed input must yield an empty
// result, never a panic.
type Decoder func([]byte) []Message

// CodecFactory builds the encoder/decoder pair for one device from its
// local key. The production factory lives with the cipher implementation;
// NewPlainCodec is the keyless stand-in.
type CodecFactory func(localKey string) (Encoder, Decoder)

// Plaintext framing:
//
//	magic   uint16  0x524f ("RO")
//	proto   uint16
//	ts      uint32
//	length  uint32  payload length
//	payload length bytes
//	crc32   uint32  over everything before it
const (
	plainMagic      = 0x524f
	plainHeaderLen  = 12
	plainTrailerLen = 4
)

// NewPlainCodec returns an encoder/decoder pair with framing but no
// cipher. Used by tests and by devices whose cipher has been disabled.
func NewPlainCodec() (Encoder, Decoder) {
	encoder := func(m Message) ([]byte, error) {
		buf := make([]byte, plainHeaderLen+len(m.Payload)+plainTrailerLen)
		binary.BigEndian.PutUint16(buf[0:2], plainMagic)
		binary.BigEndian.PutUint16(buf[2:4], uint16(m.Protocol))
		binary.BigEndian.PutUint32(buf[4:8], uint32(m.Timestamp))
		binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Payload)))
		copy(buf[plainHeaderLen:], m.Payload)
		crc := crc32.ChecksumIEEE(buf[:plainHeaderLen+len(m.Payload)])
		binary.BigEndian.PutUint32(buf[plainHeaderLen+len(m.Payload):], crc)
		return buf, nil
	}

	var pending []byte
	decoder := func(data []byte) []Message {
		pending = append(pending, data...)
		var out []Message
		for {
			if len(pending) < plainHeaderLen {
				return out
			}
			if binary.BigEndian.Uint16(pending[0:2]) != plainMagic {
				// Stream is out of sync; drop the buffer rather than
				// scanning for a resync point.
				pending = nil
				return out
			}
			length := int(binary.BigEndian.Uint32(pending[8:12]))
			total := plainHeaderLen + length + plainTrailerLen
			if len(pending) < total {
				return out
			}
			frame := pending[:total]
			pending = pending[total:]
			want := binary.BigEndian.Uint32(frame[total-plainTrailerLen:])
			if crc32.ChecksumIEEE(frame[:total-plainTrailerLen]) != want {
				continue
			}
			payload := make([]byte, length)
			copy(payload, frame[plainHeaderLen:plainHeaderLen+length])
			out = append(out, Message{
				Protocol:  Protocol(binary.BigEndian.Uint16(frame[2:4])),
				Timestamp: int64(binary.BigEndian.Uint32(frame[4:8])),
				Payload:   payload,
			})
		}
	}

	return encoder, decoder
}

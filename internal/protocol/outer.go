// ABOUTME: Outer frame codec: [type:1][varint length][body]
// ABOUTME: Defines the six outer message kinds and the envelope fields they carry
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// OuterType is the one-byte frame type tag.
type OuterType uint8

const (
	OuterAuthenticate OuterType = 1
	OuterSubscribe    OuterType = 2
	OuterUnsubscribe  OuterType = 3
	OuterPayload      OuterType = 6
	OuterError        OuterType = 9
	OuterDisconnect   OuterType = 10
)

func (t OuterType) String() string {
	switch t {
	case OuterAuthenticate:
		return "AUTHENTICATE"
	case OuterSubscribe:
		return "SUBSCRIBE"
	case OuterUnsubscribe:
		return "UNSUBSCRIBE"
	case OuterPayload:
		return "PAYLOAD"
	case OuterError:
		return "ERROR"
	case OuterDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("OuterType(%d)", uint8(t))
	}
}

const (
	fieldMsgID   uint8 = 1
	fieldMsgDate uint8 = 2
	fieldJwt     uint8 = 3
	fieldChans   uint8 = 4
	fieldSrc     uint8 = 5
	fieldDests   uint8 = 6
	fieldPayload uint8 = 7
	fieldProto   uint8 = 8
	fieldCode    uint8 = 9
	fieldMessage uint8 = 10
)

// Envelope carries the named fields of an outer frame. Which fields are
// meaningful depends on Type; callers only set what their OuterType
// uses (see Codec.Encode callers in internal/session).
type Envelope struct {
	Type OuterType

	MsgID   uint64
	MsgDate int64 // epoch milliseconds

	Jwt      string   // AUTHENTICATE
	Channels []string // SUBSCRIBE / UNSUBSCRIBE
	Src      string
	Dests    []string
	Payload  []byte // PAYLOAD: an encoded Batch (see inner.go)
	Proto    uint64
	Code     uint64 // ERROR
	Message  string // ERROR
}

func (e Envelope) encodeBody() []byte {
	w := &fieldWriter{}
	w.Uvarint(fieldMsgID, e.MsgID)
	w.Varint(fieldMsgDate, e.MsgDate)
	w.String(fieldJwt, e.Jwt)
	w.Strings(fieldChans, e.Channels)
	w.String(fieldSrc, e.Src)
	w.Strings(fieldDests, e.Dests)
	w.Bytes(fieldPayload, e.Payload)
	w.Uvarint(fieldProto, e.Proto)
	w.Uvarint(fieldCode, e.Code)
	w.String(fieldMessage, e.Message)
	return w.Finish()
}

func decodeBody(body []byte) (Envelope, error) {
	var e Envelope
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			break
		}
		var err error
		switch tag {
		case fieldMsgID:
			e.MsgID, err = r.Uvarint()
		case fieldMsgDate:
			e.MsgDate, err = r.Varint()
		case fieldJwt:
			e.Jwt, err = r.String()
		case fieldChans:
			e.Channels, err = r.Strings()
		case fieldSrc:
			e.Src, err = r.String()
		case fieldDests:
			e.Dests, err = r.Strings()
		case fieldPayload:
			e.Payload, err = r.Bytes()
		case fieldProto:
			e.Proto, err = r.Uvarint()
		case fieldCode:
			e.Code, err = r.Uvarint()
		case fieldMessage:
			e.Message, err = r.String()
		default:
			return Envelope{}, fmt.Errorf("protocol: unknown envelope field tag %d", tag)
		}
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: decode envelope field %d: %w", tag, err)
		}
	}
	return e, nil
}

// Codec frames and unframes outer messages for a single WebSocket
// session, assigning a strictly increasing msg_id to every encode.
type Codec struct {
	nextMsgID atomic.Uint64
	now       func() time.Time // overridable for tests
}

// NewCodec returns a codec whose first encoded message has msg_id 1.
func NewCodec() *Codec {
	return &Codec{now: time.Now}
}

// Encode stamps MsgID/MsgDate on env and returns a complete frame.
func (c *Codec) Encode(outerType OuterType, env Envelope) []byte {
	env.Type = outerType
	env.MsgID = c.nextMsgID.Add(1)
	env.MsgDate = c.now().UnixMilli()

	body := env.encodeBody()
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(body)))

	frame := make([]byte, 0, 1+n+len(body))
	frame = append(frame, byte(outerType))
	frame = append(frame, lb[:n]...)
	frame = append(frame, body...)
	return frame
}

// Decode parses a complete frame. It returns an error for a malformed
// length prefix, an unknown outer type, or a body that fails to parse;
// per the spec these are dropped by the caller, not escalated.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < 1 {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	outerType := OuterType(frame[0])
	switch outerType {
	case OuterAuthenticate, OuterSubscribe, OuterUnsubscribe, OuterPayload, OuterError, OuterDisconnect:
	default:
		return Envelope{}, fmt.Errorf("protocol: unknown outer type %d", frame[0])
	}

	length, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return Envelope{}, fmt.Errorf("protocol: malformed length prefix")
	}
	start := 1 + n
	end := start + int(length)
	if end > len(frame) {
		return Envelope{}, fmt.Errorf("protocol: frame body truncated: want %d bytes, have %d", length, len(frame)-start)
	}

	env, err := decodeBody(frame[start:end])
	if err != nil {
		return Envelope{}, err
	}
	env.Type = outerType
	return env, nil
}

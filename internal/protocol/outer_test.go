// ABOUTME: Tests for the outer frame codec
// ABOUTME: Round-trip, msg_id sequencing, and malformed-frame rejection
package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCodec()
		env := Envelope{
			Jwt:      rapid.String().Draw(t, "jwt"),
			Channels: rapid.SliceOfN(rapid.StringMatching(`[a-z0-9-]{1,36}`), 0, 4).Draw(t, "channels"),
			Src:      rapid.String().Draw(t, "src"),
			Payload:  rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload"),
			Code:     rapid.Uint64Range(0, 1000).Draw(t, "code"),
			Message:  rapid.String().Draw(t, "message"),
		}
		outerType := rapid.SampledFrom([]OuterType{
			OuterAuthenticate, OuterSubscribe, OuterUnsubscribe,
			OuterPayload, OuterError, OuterDisconnect,
		}).Draw(t, "type")

		frame := c.Encode(outerType, env)
		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != outerType {
			t.Fatalf("type = %v, want %v", got.Type, outerType)
		}
		if got.Jwt != env.Jwt || got.Src != env.Src || got.Message != env.Message {
			t.Fatalf("string fields did not round-trip: %+v", got)
		}
		if len(got.Channels) != len(env.Channels) {
			t.Fatalf("channels = %v, want %v", got.Channels, env.Channels)
		}
		for i := range env.Channels {
			if got.Channels[i] != env.Channels[i] {
				t.Fatalf("channels[%d] = %q, want %q", i, got.Channels[i], env.Channels[i])
			}
		}
		if string(got.Payload) != string(env.Payload) {
			t.Fatalf("payload did not round-trip")
		}
		if got.Code != env.Code {
			t.Fatalf("code = %d, want %d", got.Code, env.Code)
		}
	})
}

func TestMsgIDStartsAtOneAndIncrements(t *testing.T) {
	c := NewCodec()
	for want := uint64(1); want <= 5; want++ {
		frame := c.Encode(OuterPayload, Envelope{Payload: []byte("x")})
		env, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.MsgID != want {
			t.Fatalf("msg_id = %d, want %d", env.MsgID, want)
		}
	}
}

func TestDecodeRejectsUnknownOuterType(t *testing.T) {
	if _, err := Decode([]byte{0x42, 0x00}); err == nil {
		t.Fatal("expected error for unknown outer type")
	}
}

func TestDecodeRejectsTruncatedFrames(t *testing.T) {
	c := NewCodec()
	frame := c.Encode(OuterError, Envelope{Code: 7, Message: "boom"})
	for cut := 1; cut < len(frame); cut++ {
		if _, err := Decode(frame[:cut]); err == nil {
			t.Fatalf("expected error for frame truncated to %d bytes", cut)
		}
	}
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestDecodeRejectsLengthOverrun(t *testing.T) {
	// Claims a 100-byte body but carries none.
	if _, err := Decode([]byte{byte(OuterPayload), 100}); err == nil {
		t.Fatal("expected error for length overrun")
	}
}

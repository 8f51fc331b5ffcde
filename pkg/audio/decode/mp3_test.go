// ABOUTME: Tests for MP3 decoder and the content-type dispatcher
// ABOUTME: Tests sniffing and error paths since synthesizing valid MP3 frames is impractical here
package decode

import "testing"

func TestNew_DispatchesByContentType(t *testing.T) {
	d, err := New("audio/flac", []byte("fLaC\x00\x00\x00\x22"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := d.(*FLACDecoder); !ok {
		t.Fatalf("expected *FLACDecoder, got %T", d)
	}
}

func TestNew_DispatchesByMagicWhenContentTypeMissing(t *testing.T) {
	d, err := New("", []byte("fLaC\x00\x00\x00\x22"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := d.(*FLACDecoder); !ok {
		t.Fatalf("expected *FLACDecoder, got %T", d)
	}
}

func TestNew_UnrecognizedBody(t *testing.T) {
	_, err := New("", []byte("not audio"))
	if err == nil {
		t.Fatal("expected error for unrecognized body, got nil")
	}
}

func TestNewMP3_ConstructsDecoder(t *testing.T) {
	d, err := NewMP3([]byte{0xFF, 0xFB, 0x90, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected a decoder")
	}
}

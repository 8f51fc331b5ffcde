// ABOUTME: Tag-length-value primitives shared by the outer envelope and inner messages
// ABOUTME: Field layouts are vendor-pinned and unspecified; this is our own deterministic encoding of the named fields the spec pins
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// fieldWriter builds a sequence of tag-prefixed fields. A field absent
// from the writer never appears on the wire; the reader treats a
// missing tag as the Go zero value, so writers skip zero/empty fields
// by convention rather than encoding explicit presence bits.
type fieldWriter struct {
	buf bytes.Buffer
}

func (w *fieldWriter) tag(t uint8) {
	w.buf.WriteByte(t)
}

// Uvarint writes an unsigned integer field, skipping zero values.
func (w *fieldWriter) Uvarint(t uint8, v uint64) {
	if v == 0 {
		return
	}
	w.tag(t)
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	w.buf.Write(b[:n])
}

// Varint writes a signed integer field (zigzag-encoded), skipping zero.
func (w *fieldWriter) Varint(t uint8, v int64) {
	if v == 0 {
		return
	}
	w.tag(t)
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	w.buf.Write(b[:n])
}

// Bool writes a boolean field only when true.
func (w *fieldWriter) Bool(t uint8, v bool) {
	if !v {
		return
	}
	w.Uvarint(t, 1)
}

// String writes a length-prefixed UTF-8 string field, skipping empty.
func (w *fieldWriter) String(t uint8, s string) {
	if s == "" {
		return
	}
	w.Bytes(t, []byte(s))
}

// Bytes writes a length-prefixed byte field, skipping empty/nil.
func (w *fieldWriter) Bytes(t uint8, b []byte) {
	if len(b) == 0 {
		return
	}
	w.tag(t)
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(b)))
	w.buf.Write(lb[:n])
	w.buf.Write(b)
}

// Strings writes a repeated string field as a count followed by each
// length-prefixed string.
func (w *fieldWriter) Strings(t uint8, ss []string) {
	if len(ss) == 0 {
		return
	}
	w.tag(t)
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(ss)))
	w.buf.Write(lb[:n])
	for _, s := range ss {
		sb := []byte(s)
		n := binary.PutUvarint(lb[:], uint64(len(sb)))
		w.buf.Write(lb[:n])
		w.buf.Write(sb)
	}
}

// Finish returns the accumulated encoded bytes.
func (w *fieldWriter) Finish() []byte { return w.buf.Bytes() }

// fieldReader walks a tag-prefixed field sequence produced by
// fieldWriter. Callers dispatch on the returned tag and read the
// matching typed value; an unknown tag's value cannot be skipped
// generically (there's no universal length prefix), so every message
// in this package is expected to only emit tags it also knows how to
// read back.
type fieldReader struct {
	r *bytes.Reader
}

func newFieldReader(b []byte) *fieldReader {
	return &fieldReader{r: bytes.NewReader(b)}
}

// Tag returns the next field tag, or false at end of input.
func (r *fieldReader) Tag() (uint8, bool) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

func (r *fieldReader) Uvarint() (uint64, error) {
	return binary.ReadUvarint(r.r)
}

func (r *fieldReader) Varint() (int64, error) {
	return binary.ReadVarint(r.r)
}

func (r *fieldReader) Bool() (bool, error) {
	v, err := r.Uvarint()
	return v != 0, err
}

func (r *fieldReader) String() (string, error) {
	b, err := r.Bytes()
	return string(b), err
}

func (r *fieldReader) Bytes() ([]byte, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, fmt.Errorf("tlv: short read for %d-byte field: %w", n, err)
	}
	return b, nil
}

func (r *fieldReader) Strings() ([]string, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

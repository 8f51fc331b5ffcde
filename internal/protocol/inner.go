// ABOUTME: Inner QConnect batch: the PAYLOAD envelope's body
// ABOUTME: A timestamped sequence of messageType-tagged inner messages
package protocol

import (
	"encoding/binary"
	"fmt"
)

// InnerType is the messageType discriminant carried by each message in
// a Batch. Codes are fixed by the vendor; see SPEC_FULL.md §6.1.
type InnerType uint32

const (
	InnerJoinSession               InnerType = 21
	InnerDeviceInfoUpdated         InnerType = 22
	InnerStateUpdated              InnerType = 23
	InnerVolumeChanged             InnerType = 25 // renderer -> controller: device volume changed
	InnerFileAudioQualityChanged   InnerType = 26
	InnerDeviceAudioQualityChanged InnerType = 27
	InnerMaxAudioQualityChanged    InnerType = 28

	InnerSetState            InnerType = 41
	InnerSetVolume           InnerType = 42
	InnerSetActive           InnerType = 43
	InnerSetMaxAudioQuality  InnerType = 44
	InnerSetLoopMode         InnerType = 45
	InnerSetShuffleMode      InnerType = 46
	InnerSetAutoplayMode     InnerType = 47
	InnerVolumeChangedBcast  InnerType = 87 // controller -> renderer: broadcast volume change
	InnerQueueState          InnerType = 90
	InnerQueueLoadTracks     InnerType = 91
)

// RawMessage is one undecoded entry of a Batch: a messageType tag and
// its opaque, type-specific body. Unknown types are returned as-is
// rather than erroring, per the spec's codec contract.
type RawMessage struct {
	Type InnerType
	Body []byte
}

// Batch is the inner payload of a PAYLOAD envelope.
type Batch struct {
	MessagesTime int64
	MessagesID   uint64
	Messages     []RawMessage
}

// Encode serializes the batch for use as an Envelope.Payload.
func (b Batch) Encode() []byte {
	var buf []byte
	var lb [binary.MaxVarintLen64]byte

	n := binary.PutVarint(lb[:], b.MessagesTime)
	buf = append(buf, 1)
	buf = append(buf, lb[:n]...)

	n = binary.PutUvarint(lb[:], b.MessagesID)
	buf = append(buf, 2)
	buf = append(buf, lb[:n]...)

	buf = append(buf, 3)
	n = binary.PutUvarint(lb[:], uint64(len(b.Messages)))
	buf = append(buf, lb[:n]...)
	for _, m := range b.Messages {
		n = binary.PutUvarint(lb[:], uint64(m.Type))
		buf = append(buf, lb[:n]...)
		n = binary.PutUvarint(lb[:], uint64(len(m.Body)))
		buf = append(buf, lb[:n]...)
		buf = append(buf, m.Body...)
	}
	return buf
}

// DecodeBatch parses a PAYLOAD envelope's body into a Batch.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	i := 0
	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(data[i:])
		if n <= 0 {
			return 0, fmt.Errorf("protocol: malformed batch varint")
		}
		i += n
		return v, nil
	}
	readVarint := func() (int64, error) {
		v, n := binary.Varint(data[i:])
		if n <= 0 {
			return 0, fmt.Errorf("protocol: malformed batch varint")
		}
		i += n
		return v, nil
	}

	for _, want := range []uint8{1, 2, 3} {
		if i >= len(data) || data[i] != want {
			return Batch{}, fmt.Errorf("protocol: batch missing field %d", want)
		}
		i++
		switch want {
		case 1:
			t, err := readVarint()
			if err != nil {
				return Batch{}, err
			}
			b.MessagesTime = t
		case 2:
			id, err := readUvarint()
			if err != nil {
				return Batch{}, err
			}
			b.MessagesID = id
		case 3:
			count, err := readUvarint()
			if err != nil {
				return Batch{}, err
			}
			b.Messages = make([]RawMessage, count)
			for m := range b.Messages {
				typ, err := readUvarint()
				if err != nil {
					return Batch{}, err
				}
				blen, err := readUvarint()
				if err != nil {
					return Batch{}, err
				}
				if i+int(blen) > len(data) {
					return Batch{}, fmt.Errorf("protocol: batch message body truncated")
				}
				body := make([]byte, blen)
				copy(body, data[i:i+int(blen)])
				i += int(blen)
				b.Messages[m] = RawMessage{Type: InnerType(typ), Body: body}
			}
		}
	}
	return b, nil
}

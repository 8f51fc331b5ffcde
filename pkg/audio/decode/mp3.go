// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes a full MP3 file to interleaved float32 samples
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/qbz-connect/renderer/pkg/audio"
)

// MP3Decoder decodes an in-memory MP3 file. go-mp3 always produces
// 16-bit stereo PCM regardless of the source encoding.
type MP3Decoder struct {
	body []byte
}

// NewMP3 creates a decoder over a complete MP3 file body.
func NewMP3(body []byte) (Decoder, error) {
	return &MP3Decoder{body: body}, nil
}

// Decode drains the go-mp3 reader to EOF and returns the whole track.
func (d *MP3Decoder) Decode() (audio.Samples, error) {
	r, err := mp3.NewDecoder(bytes.NewReader(d.body))
	if err != nil {
		return audio.Samples{}, fmt.Errorf("mp3: open decoder: %w", err)
	}

	buf := make([]byte, 32*1024)
	var pcm []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pcm = append(pcm, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return audio.Samples{}, fmt.Errorf("mp3: decode: %w", err)
		}
	}

	const channels = 2
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768.0
	}

	return audio.Samples{
		Format: audio.Format{
			SampleRate: r.SampleRate(),
			Channels:   channels,
		},
		Data: samples,
	}, nil
}

// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for whole-file audio decoders
package decode

import (
	"fmt"
	"strings"

	"github.com/qbz-connect/renderer/pkg/audio"
)

// Decoder decodes a complete audio file body into interleaved PCM.
// Local playback always has the whole file in memory (the metadata
// service resolves a signed CDN URL, not a live stream), so decoders
// here trade streaming for simplicity and decode everything up front.
type Decoder interface {
	Decode() (audio.Samples, error)
}

// New picks a decoder by content type, falling back to sniffing the
// body's magic bytes when the content type is missing or generic.
func New(contentType string, body []byte) (Decoder, error) {
	switch {
	case strings.Contains(contentType, "flac"):
		return NewFLAC(body)
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return NewMP3(body)
	}

	switch {
	case len(body) >= 4 && string(body[:4]) == "fLaC":
		return NewFLAC(body)
	case len(body) >= 3 && (body[0] == 0xFF && body[1]&0xE0 == 0xE0):
		return NewMP3(body)
	case len(body) >= 3 && string(body[:3]) == "ID3":
		return NewMP3(body)
	}

	return nil, fmt.Errorf("decode: unrecognized content type %q", contentType)
}

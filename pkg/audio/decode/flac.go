// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes a full FLAC file to interleaved float32 samples
package decode

import (
	"bytes"
	"fmt"
	"math"

	"github.com/mewkiz/flac"
	"github.com/qbz-connect/renderer/pkg/audio"
)

// FLACDecoder decodes an in-memory FLAC file.
type FLACDecoder struct {
	body []byte
}

// NewFLAC creates a decoder over a complete FLAC file body.
func NewFLAC(body []byte) (Decoder, error) {
	if len(body) < 4 || string(body[:4]) != "fLaC" {
		return nil, fmt.Errorf("decode: not a FLAC stream")
	}
	return &FLACDecoder{body: body}, nil
}

// Decode reads every frame of the stream and returns the whole track as
// interleaved float32 samples, normalized from the source bit depth.
func (d *FLACDecoder) Decode() (audio.Samples, error) {
	stream, err := flac.New(bytes.NewReader(d.body))
	if err != nil {
		return audio.Samples{}, fmt.Errorf("flac: open stream: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	scale := float32(1) / float32(int64(1)<<(stream.Info.BitsPerSample-1))

	var out []float32
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break // io.EOF ends the stream; mewkiz/flac has no other clean-EOF signal
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				out = append(out, clampUnit(float32(frame.Subframes[ch].Samples[i])*scale))
			}
		}
	}

	return audio.Samples{
		Format: audio.Format{
			SampleRate: int(stream.Info.SampleRate),
			Channels:   channels,
		},
		Data: out,
	}, nil
}

// clampUnit keeps a scaled sample inside [-1, 1] in case of 24-bit
// headroom overshoot from lossy intermediate math.
func clampUnit(v float32) float32 {
	return float32(math.Max(-1, math.Min(1, float64(v))))
}

// ABOUTME: Audio fundamentals package providing core PCM types
// ABOUTME: Defines the interleaved float32 sample format shared by decoders and outputs
package audio

// Format describes a decoded PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Samples holds an entire track's audio as interleaved float32 frames in
// [-1.0, 1.0]. Local playback decodes a whole file up front (see
// pkg/audio/decode), so there is no streaming buffer type here.
type Samples struct {
	Format Format
	Data   []float32 // interleaved, len == Frames()*Format.Channels
}

// Frames returns the number of sample frames (one value per channel).
func (s Samples) Frames() int {
	if s.Format.Channels == 0 {
		return 0
	}
	return len(s.Data) / s.Format.Channels
}

// DurationMS returns the playback duration in milliseconds.
func (s Samples) DurationMS() int64 {
	if s.Format.SampleRate == 0 {
		return 0
	}
	return int64(s.Frames()) * 1000 / int64(s.Format.SampleRate)
}

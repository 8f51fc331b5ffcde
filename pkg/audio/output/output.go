// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for the local audio playback sink
package output

import "io"

// Output is a pull-model audio sink: once a source is attached, the
// underlying device reads from it on its own real-time thread.
type Output interface {
	// Open initializes the output device for a given format.
	// bufferFrames sizes the device-side buffer (0 picks the library
	// default). Safe to call again with the same format once already
	// open.
	Open(sampleRate, channels, bufferFrames int) error

	// SetSource points playback at r, which must yield interleaved
	// float32 PCM matching the format passed to Open. Replacing the
	// source mid-playback is how a track change is realized.
	SetSource(r io.Reader)

	// Play resumes pulling from the current source.
	Play()

	// Pause stops pulling from the source without releasing the device.
	Pause()

	// Close releases output resources.
	Close() error
}

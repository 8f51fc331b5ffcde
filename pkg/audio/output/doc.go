// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output interface and an oto-backed implementation
// Package output provides the local audio playback sink used by
// internal/backend/local: a pull-model device that reads PCM from
// whatever io.Reader source it is pointed at.
//
// Example:
//
//	out := output.NewOto(logger)
//	err := out.Open(44100, 2, 2048)
//	out.SetSource(ringSource)
package output

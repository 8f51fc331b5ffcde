// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the Samples type used by the decode and output packages
// Package audio provides the fundamental PCM type shared across decoders
// and the local output backend: a whole-track buffer of interleaved
// float32 samples at a fixed sample rate and channel count.
//
// Example:
//
//	dec, _ := decode.NewFLAC(body)
//	samples, _ := dec.Decode()
//	fmt.Println(samples.Format.SampleRate, samples.Frames())
package audio

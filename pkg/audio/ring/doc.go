// ABOUTME: Ring buffer package for the local audio path
// ABOUTME: Single-producer single-consumer float32 ring under one mutex
// Package ring provides the fixed-capacity sample buffer between the
// local backend's feeder goroutine and the output device's read
// callback. Reads always fill their destination, zero-padding when the
// buffer runs dry, so the audio thread never blocks.
package ring

// ABOUTME: Audio decoder package for whole-file FLAC and MP3 bodies
// ABOUTME: Provides Decoder interface plus a content-type dispatcher
// Package decode provides whole-file audio decoders for the two codecs
// the vendor streams (FLAC and MP3). There is no streaming variant: the
// local audio backend fetches a track's whole body before decoding it.
//
// Example:
//
//	decoder, err := decode.New(resp.Header.Get("Content-Type"), body)
//	samples, err := decoder.Decode()
package decode

// ABOUTME: Tests for the local audio backend
// ABOUTME: Position correction, seek, buffer status mapping, callback volume and feeder drain
package local

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/pkg/audio"
	"github.com/qbz-connect/renderer/pkg/audio/ring"
)

// fakeOutput satisfies output.Output without touching a real device.
type fakeOutput struct {
	source io.Reader
	opened bool
}

func (f *fakeOutput) Open(sampleRate, channels, bufferFrames int) error {
	f.opened = true
	return nil
}
func (f *fakeOutput) SetSource(r io.Reader) { f.source = r }
func (f *fakeOutput) Play()                 {}
func (f *fakeOutput) Pause()                {}
func (f *fakeOutput) Close() error          { return nil }

func newTestLocal() *Local {
	return New(slog.Default(), Config{Device: "default"}, &fakeOutput{})
}

func stereoSamples(frames int) audio.Samples {
	data := make([]float32, frames*2)
	for i := range data {
		data[i] = float32(i%100) / 100
	}
	return audio.Samples{Format: audio.Format{SampleRate: 1000, Channels: 2}, Data: data}
}

func TestConnectRejectsUnknownDevice(t *testing.T) {
	l := New(slog.Default(), Config{Device: "USB DAC"}, &fakeOutput{})
	if err := l.Connect(context.Background()); err == nil {
		t.Fatal("expected error for unsupported device selector")
	}
	if err := newTestLocal().Connect(context.Background()); err != nil {
		t.Fatalf("default device rejected: %v", err)
	}
}

func TestStatusForFill(t *testing.T) {
	cases := []struct {
		fill float64
		want backend.BufferStatus
	}{
		{0, backend.BufferEmpty},
		{0.05, backend.BufferLow},
		{0.5, backend.BufferOK},
		{1.0, backend.BufferFull},
	}
	for _, c := range cases {
		if got := statusForFill(c.fill); got != c.want {
			t.Errorf("statusForFill(%v) = %v, want %v", c.fill, got, c.want)
		}
	}
}

func TestSetVolumeClamps(t *testing.T) {
	l := newTestLocal()
	l.SetVolume(150)
	if v, _ := l.Volume(); v != 100 {
		t.Errorf("volume = %d, want 100", v)
	}
	l.SetVolume(-4)
	if v, _ := l.Volume(); v != 0 {
		t.Errorf("volume = %d, want 0", v)
	}
}

func TestSeekWithoutTrack(t *testing.T) {
	if err := newTestLocal().Seek(1000); err == nil {
		t.Fatal("seek with no track should fail")
	}
}

func TestPositionCorrectsForBufferedAudio(t *testing.T) {
	l := newTestLocal()
	l.samples = stereoSamples(2000)
	l.buffer = ring.New(1000 * 2)
	l.framesFed = 1500
	l.buffer.Write(make([]float32, 500*2)) // 500 frames still buffered

	// 1500 fed - 500 buffered = 1000 frames played at 1 kHz = 1000 ms.
	if pos := l.PositionMS(); pos != 1000 {
		t.Fatalf("position = %d, want 1000", pos)
	}
}

func TestSeekEmitsPositionImmediately(t *testing.T) {
	l := newTestLocal()
	l.samples = stereoSamples(5000)
	l.buffer = ring.New(100)

	var reported atomic.Int64
	l.SetCallbacks(backend.Callbacks{OnPositionMS: func(ms int64) { reported.Store(ms) }})

	if err := l.Seek(3000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if reported.Load() != 3000 {
		t.Fatalf("reported position = %d, want 3000", reported.Load())
	}
	if l.seek != 3000 { // 3000 ms at 1 kHz = frame 3000
		t.Fatalf("pending seek frame = %d, want 3000", l.seek)
	}
}

func TestSeekClampsToTrack(t *testing.T) {
	l := newTestLocal()
	l.samples = stereoSamples(2000)
	l.buffer = ring.New(100)

	if err := l.Seek(99999); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if l.seek != 2000 {
		t.Fatalf("pending seek frame = %d, want clamp to 2000", l.seek)
	}
}

func TestCallbackSourcePausedYieldsSilence(t *testing.T) {
	l := newTestLocal()
	l.buffer = ring.New(64)
	l.buffer.Write([]float32{0.5, 0.5, 0.5, 0.5})
	l.paused = true

	src := &callbackSource{l: l}
	p := make([]byte, 16)
	for i := range p {
		p[i] = 0xAA
	}
	n, err := src.Read(p)
	if err != nil || n != 16 {
		t.Fatalf("read = %d, %v", n, err)
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d = %x, want silence", i, b)
		}
	}
	if l.buffer.Available() != 4 {
		t.Fatal("paused read must not consume the ring")
	}
}

func TestCallbackSourceAppliesVolume(t *testing.T) {
	l := newTestLocal()
	l.buffer = ring.New(64)
	l.buffer.Write([]float32{1.0})
	l.volume = 50

	src := &callbackSource{l: l}
	p := make([]byte, 4)
	if _, err := src.Read(p); err != nil {
		t.Fatalf("read: %v", err)
	}
	bits := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	got := math.Float32frombits(bits)
	if got != 0.5 {
		t.Fatalf("scaled sample = %v, want 0.5", got)
	}
}

func TestCallbackSourceCountsUnderruns(t *testing.T) {
	l := newTestLocal()
	l.buffer = ring.New(8)

	src := &callbackSource{l: l}
	p := make([]byte, 8)
	for i := 0; i < 3; i++ {
		src.Read(p)
	}
	if l.underruns != 3 {
		t.Fatalf("underruns = %d, want 3", l.underruns)
	}
}

func TestFeederFeedsAndEnds(t *testing.T) {
	l := newTestLocal()
	l.samples = stereoSamples(3000)
	l.buffer = ring.New(1000)
	l.state = backend.StatePlaying

	var ended atomic.Bool
	l.SetCallbacks(backend.Callbacks{OnTrackEnded: func() { ended.Store(true) }})

	// Drain the ring continuously like the audio callback would.
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go func() {
		dst := make([]float32, 256)
		for drainCtx.Err() == nil {
			l.mu.Lock()
			rb := l.buffer
			l.mu.Unlock()
			rb.Read(dst)
			time.Sleep(time.Millisecond)
		}
	}()

	done := make(chan struct{})
	go l.feed(context.Background(), done)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("feeder did not finish")
	}
	if !ended.Load() {
		t.Fatal("track end was not announced")
	}
	if l.framesFed != 3000 {
		t.Fatalf("framesFed = %d, want 3000", l.framesFed)
	}
	if l.State() != backend.StateStopped {
		t.Fatalf("state = %v, want stopped", l.State())
	}
}

func TestFeederAppliesPendingSeek(t *testing.T) {
	l := newTestLocal()
	l.samples = stereoSamples(3000)
	l.buffer = ring.New(10000)
	l.seek = 2900

	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go func() {
		dst := make([]float32, 256)
		for drainCtx.Err() == nil {
			l.buffer.Read(dst)
			time.Sleep(time.Millisecond)
		}
	}()

	done := make(chan struct{})
	go l.feed(context.Background(), done)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("feeder did not finish")
	}
	// Seek to frame 2900 means only the last 100 frames get fed.
	if l.framesFed != 3000 {
		t.Fatalf("framesFed = %d, want 3000", l.framesFed)
	}
	if avail := l.buffer.Available(); avail != 0 {
		t.Fatalf("ring should have drained, has %d", avail)
	}
}

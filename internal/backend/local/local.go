// ABOUTME: Local audio backend: download, decode, ring buffer, callback-driven output
// ABOUTME: Implements backend.Sink with buffer-latency-corrected position and feeder-applied seek
package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/pkg/audio"
	"github.com/qbz-connect/renderer/pkg/audio/decode"
	"github.com/qbz-connect/renderer/pkg/audio/output"
	"github.com/qbz-connect/renderer/pkg/audio/ring"
)

const (
	// ringSeconds sizes the ring buffer in seconds of audio.
	ringSeconds = 10

	// chunkFrames is how many frames the feeder writes per iteration.
	chunkFrames = 8192

	// highWater pauses the feeder until the callback drains some audio.
	highWater = 0.8
)

// Config selects the output device.
type Config struct {
	Device     string
	BufferSize int
}

// Local plays tracks on the machine's audio device. The whole file is
// downloaded and decoded up front; a feeder goroutine trickles frames
// into a ring buffer that the output stream's real-time read callback
// drains.
type Local struct {
	log *slog.Logger
	cfg Config
	out output.Output

	mu        sync.Mutex
	cb        backend.Callbacks
	state     backend.State
	buffer    *ring.Buffer
	samples   audio.Samples
	framesFed int64
	seek      int64 // pending target frame, -1 when none
	volume    int
	paused    bool
	lastBuf   backend.BufferStatus
	underruns int

	feedCancel context.CancelFunc
	feedDone   chan struct{}
}

// New returns an unconnected local backend playing through out.
func New(log *slog.Logger, cfg Config, out output.Output) *Local {
	return &Local{
		log:    log,
		cfg:    cfg,
		out:    out,
		state:  backend.StateStopped,
		seek:   -1,
		volume: 100,
	}
}

// SetCallbacks registers the player's event hooks.
func (l *Local) SetCallbacks(cb backend.Callbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

// Connect validates the configured device. The output library plays
// through the system default device only, so anything other than
// "default" is rejected up front rather than silently ignored.
func (l *Local) Connect(ctx context.Context) error {
	if l.cfg.Device != "" && l.cfg.Device != "default" {
		return fmt.Errorf("local: device %q not available; this backend plays via the system default output (set backend.local.device to \"default\")", l.cfg.Device)
	}
	return nil
}

// Disconnect stops playback and releases the output device.
func (l *Local) Disconnect() error {
	l.Stop()
	return l.out.Close()
}

// Info describes the local sink.
func (l *Local) Info() backend.Info {
	return backend.Info{Name: "Local audio", Manufacturer: "qbz-connect", Model: "system default output"}
}

// Play downloads and decodes url, then starts the feeder.
func (l *Local) Play(ctx context.Context, url string, md backend.Metadata) error {
	l.stopFeeder()
	l.setState(backend.StateLoading)

	body, contentType, err := download(ctx, url)
	if err != nil {
		l.setState(backend.StateError)
		return fmt.Errorf("local: download: %w", err)
	}
	if md.MimeType != "" {
		contentType = md.MimeType
	}

	dec, err := decode.New(contentType, body)
	if err != nil {
		l.setState(backend.StateError)
		return fmt.Errorf("local: %w", err)
	}
	samples, err := dec.Decode()
	if err != nil {
		l.setState(backend.StateError)
		return fmt.Errorf("local: decode: %w", err)
	}

	f := samples.Format
	if err := l.out.Open(f.SampleRate, f.Channels, l.cfg.BufferSize); err != nil {
		l.setState(backend.StateError)
		return fmt.Errorf("local: open output: %w", err)
	}

	buf := ring.New(f.SampleRate * ringSeconds * f.Channels)

	l.mu.Lock()
	l.samples = samples
	l.buffer = buf
	l.framesFed = 0
	l.seek = -1
	l.paused = false
	l.underruns = 0
	l.lastBuf = backend.BufferEmpty
	l.mu.Unlock()

	l.out.SetSource(&callbackSource{l: l})
	l.out.Play()

	feedCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.mu.Lock()
	l.feedCancel = cancel
	l.feedDone = done
	l.mu.Unlock()
	go l.feed(feedCtx, done)

	l.setState(backend.StatePlaying)
	l.log.Info("local playback started",
		"track_id", md.TrackID, "sample_rate", f.SampleRate,
		"channels", f.Channels, "duration_ms", samples.DurationMS())
	return nil
}

// Pause freezes the callback on zeros without consuming the ring, so
// position holds still.
func (l *Local) Pause() error {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.setState(backend.StatePaused)
	return nil
}

// Resume continues pulling from the ring.
func (l *Local) Resume() error {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.setState(backend.StatePlaying)
	return nil
}

// Stop ends playback and clears buffered audio.
func (l *Local) Stop() error {
	l.stopFeeder()
	l.mu.Lock()
	if l.buffer != nil {
		l.buffer.Clear()
	}
	l.samples = audio.Samples{}
	l.framesFed = 0
	l.mu.Unlock()
	l.out.Pause()
	l.setState(backend.StateStopped)
	return nil
}

// Seek stores the target frame; the feeder applies it at its next
// iteration so the ring is never written concurrently. The position
// update fires synchronously so the controller sees the jump at once.
func (l *Local) Seek(positionMS int64) error {
	l.mu.Lock()
	rate := l.samples.Format.SampleRate
	if rate == 0 {
		l.mu.Unlock()
		return fmt.Errorf("local: seek with no track loaded")
	}
	target := positionMS * int64(rate) / 1000
	total := int64(l.samples.Frames())
	if target < 0 {
		target = 0
	}
	if target > total {
		target = total
	}
	l.seek = target
	cb := l.cb.OnPositionMS
	l.mu.Unlock()

	if cb != nil {
		cb(positionMS)
	}
	return nil
}

// PositionMS reports the played position corrected for audio still
// sitting in the ring buffer.
func (l *Local) PositionMS() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionMSLocked()
}

func (l *Local) positionMSLocked() int64 {
	f := l.samples.Format
	if f.SampleRate == 0 || f.Channels == 0 || l.buffer == nil {
		return 0
	}
	buffered := int64(l.buffer.Available()) / int64(f.Channels)
	pos := (l.framesFed - buffered) * 1000 / int64(f.SampleRate)
	if pos < 0 {
		return 0
	}
	return pos
}

// SetVolume stores the linear scaling applied by the read callback.
func (l *Local) SetVolume(pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	l.mu.Lock()
	l.volume = pct
	l.mu.Unlock()
	return nil
}

// Volume returns the current volume percentage.
func (l *Local) Volume() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume, nil
}

// State returns the sink state.
func (l *Local) State() backend.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BufferStatus maps the ring fill level to a coarse status.
func (l *Local) BufferStatus() backend.BufferStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buffer == nil {
		return backend.BufferEmpty
	}
	return statusForFill(l.buffer.Fill())
}

func statusForFill(fill float64) backend.BufferStatus {
	switch {
	case fill == 0:
		return backend.BufferEmpty
	case fill < 0.1:
		return backend.BufferLow
	case fill >= 1.0:
		return backend.BufferFull
	default:
		return backend.BufferOK
	}
}

// feed trickles decoded frames into the ring until the track is fully
// fed, then drains and announces the end of the track.
func (l *Local) feed(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		samples := l.samples
		buf := l.buffer
		ch := samples.Format.Channels
		total := int64(samples.Frames())

		if buf == nil || ch == 0 {
			l.mu.Unlock()
			return
		}

		if l.seek >= 0 {
			buf.Clear()
			l.framesFed = l.seek
			l.seek = -1
		}

		if l.framesFed >= total {
			l.mu.Unlock()
			break
		}

		if buf.Fill() > highWater {
			l.mu.Unlock()
			l.notifyBuffer(buf)
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		start := l.framesFed * int64(ch)
		end := start + chunkFrames*int64(ch)
		if end > int64(len(samples.Data)) {
			end = int64(len(samples.Data))
		}
		written := buf.Write(samples.Data[start:end])
		l.framesFed += int64(written / ch)
		pos := l.positionMSLocked()
		cb := l.cb.OnPositionMS
		l.mu.Unlock()

		if cb != nil {
			cb(pos)
		}
		l.notifyBuffer(buf)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Tail fed; let the callback drain what's buffered.
	for {
		l.mu.Lock()
		buf := l.buffer
		l.mu.Unlock()
		if buf == nil || buf.Available() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	l.setState(backend.StateStopped)
	l.mu.Lock()
	ended := l.cb.OnTrackEnded
	l.mu.Unlock()
	if ended != nil {
		ended()
	}
}

// notifyBuffer fires the buffer-status callback on level transitions.
// This is independent of underrun logging, which has its own cadence.
func (l *Local) notifyBuffer(buf *ring.Buffer) {
	status := statusForFill(buf.Fill())
	l.mu.Lock()
	changed := status != l.lastBuf
	wasEmpty := l.lastBuf == backend.BufferEmpty
	l.lastBuf = status
	cb := l.cb.OnBufferStatus
	l.mu.Unlock()

	if !changed {
		return
	}
	if wasEmpty && status != backend.BufferEmpty && l.State() == backend.StatePlaying {
		l.log.Warn("buffer recovered from underrun")
	}
	if cb != nil {
		cb(status)
	}
}

func (l *Local) setState(s backend.State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	cb := l.cb.OnStateChange
	l.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (l *Local) stopFeeder() {
	l.mu.Lock()
	cancel := l.feedCancel
	done := l.feedDone
	l.feedCancel = nil
	l.feedDone = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// callbackSource adapts the ring buffer to the output library's pull
// model. Read runs on the audio thread: it only does lock-bounded work
// on the ring, applies volume, and never blocks.
type callbackSource struct {
	l       *Local
	scratch []float32
}

func (s *callbackSource) Read(p []byte) (int, error) {
	n := len(p) / 4
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]

	s.l.mu.Lock()
	rb := s.l.buffer
	paused := s.l.paused
	vol := float32(s.l.volume) / 100
	s.l.mu.Unlock()

	if rb == nil || paused {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	read := rb.Read(buf)
	if read == 0 {
		s.l.mu.Lock()
		s.l.underruns++
		count := s.l.underruns
		s.l.mu.Unlock()
		if count%10 == 0 {
			s.l.log.Warn("audio underruns", "count", count)
		}
	}

	for i := 0; i < n; i++ {
		v := buf[i] * vol
		bits := math.Float32bits(v)
		p[i*4] = byte(bits)
		p[i*4+1] = byte(bits >> 8)
		p[i*4+2] = byte(bits >> 16)
		p[i*4+3] = byte(bits >> 24)
	}
	return n * 4, nil
}

// download fetches the whole audio body with a fresh client.
func download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	client := &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second}}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// ABOUTME: Oto-based audio output implementation
// ABOUTME: Pulls interleaved float32 PCM from an attached io.Reader source
package output

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Oto plays audio via the oto library. oto only allows one Context per
// process, so Open reuses an already-created context when the format
// matches and logs a warning rather than failing when it doesn't.
type Oto struct {
	log        *slog.Logger
	ctx        *oto.Context
	player     *oto.Player
	sampleRate int
	channels   int
}

// NewOto creates an unopened Oto output.
func NewOto(log *slog.Logger) *Oto {
	return &Oto{log: log}
}

// Open initializes the oto context for sampleRate/channels.
func (o *Oto) Open(sampleRate, channels, bufferFrames int) error {
	if o.ctx != nil && o.sampleRate == sampleRate && o.channels == channels {
		return nil
	}
	if o.ctx != nil {
		o.log.Warn("audio format changed but oto does not support reinitialization; continuing with existing context",
			"old_rate", o.sampleRate, "old_channels", o.channels,
			"new_rate", sampleRate, "new_channels", channels)
		return nil
	}

	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	}
	if bufferFrames > 0 {
		opts.BufferSize = time.Duration(bufferFrames) * time.Second / time.Duration(sampleRate)
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return fmt.Errorf("oto: new context: %w", err)
	}
	<-ready

	o.ctx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.log.Info("audio output opened", "sample_rate", sampleRate, "channels", channels)
	return nil
}

// SetSource replaces the player's data source, closing any previous one.
func (o *Oto) SetSource(r io.Reader) {
	if o.player != nil {
		o.player.Close()
	}
	o.player = o.ctx.NewPlayer(r)
	o.player.Play()
}

// Play resumes playback on the current player.
func (o *Oto) Play() {
	if o.player != nil {
		o.player.Play()
	}
}

// Pause stops pulling from the current source without closing it.
func (o *Oto) Pause() {
	if o.player != nil {
		o.player.Pause()
	}
}

// Close releases the player and suspends the context.
func (o *Oto) Close() error {
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.ctx != nil {
		o.ctx.Suspend()
	}
	return nil
}

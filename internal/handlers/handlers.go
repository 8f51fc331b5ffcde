// ABOUTME: Inner-message command handlers dispatched by messageType
// ABOUTME: Decodes controller commands and drives the player and queue
package handlers

import (
	"context"
	"log/slog"

	"github.com/qbz-connect/renderer/internal/player"
	"github.com/qbz-connect/renderer/internal/protocol"
	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/queue"
)

// Registrar accepts handler registrations keyed by inner messageType.
// The WebSocket session implements it.
type Registrar interface {
	Handle(t protocol.InnerType, fn func(ctx context.Context, body []byte) error)
}

// Handlers binds controller commands to player and queue operations.
type Handlers struct {
	log    *slog.Logger
	player *player.Player
	queue  *queue.Queue

	// onQualityChange propagates SetMaxAudioQuality to the app, which
	// re-announces and invalidates cached URLs.
	onQualityChange func(quality.ID)
}

// New returns the handler set. onQualityChange may be nil.
func New(log *slog.Logger, p *player.Player, q *queue.Queue, onQualityChange func(quality.ID)) *Handlers {
	return &Handlers{log: log, player: p, queue: q, onQualityChange: onQualityChange}
}

// RegisterAll wires every receivable messageType into the registrar.
func (h *Handlers) RegisterAll(r Registrar) {
	r.Handle(protocol.InnerSetState, h.handleSetState)
	r.Handle(protocol.InnerSetVolume, h.handleSetVolume)
	r.Handle(protocol.InnerSetActive, h.handleSetActive)
	r.Handle(protocol.InnerSetMaxAudioQuality, h.handleSetMaxAudioQuality)
	r.Handle(protocol.InnerSetLoopMode, h.handleSetLoopMode)
	r.Handle(protocol.InnerSetShuffleMode, h.handleSetShuffleMode)
	r.Handle(protocol.InnerSetAutoplayMode, h.handleSetAutoplayMode)
	r.Handle(protocol.InnerVolumeChangedBcast, h.handleVolumeBroadcast)
	r.Handle(protocol.InnerQueueState, h.handleQueueState)
	r.Handle(protocol.InnerQueueLoadTracks, h.handleQueueLoadTracks)
}

// handleSetState applies the controller's combined transport command.
// The order is load-bearing: the track switch must land before the
// playing state, or a paused-then-playing sequence can start playback
// on the wrong track.
func (h *Handlers) handleSetState(ctx context.Context, body []byte) error {
	m, err := protocol.DecodeSetState(body)
	if err != nil {
		return err
	}

	trackChanged := false
	if m.CurrentQueueItem != nil && m.CurrentQueueItem.TrackID != h.player.CurrentTrackID() {
		h.player.LoadTrack(ctx, *m.CurrentQueueItem)
		trackChanged = true
	}

	h.player.SetNextTrackHint(m.NextQueueItem)

	switch m.PlayingState {
	case protocol.PlayingStatePlaying:
		if trackChanged {
			// LoadTrack already started from zero; only the offset
			// remains to apply.
			if m.PositionMs > 0 {
				h.player.Seek(m.PositionMs)
			}
		} else {
			h.player.Play(ctx, m.PositionMs)
		}
	case protocol.PlayingStatePaused:
		h.player.Pause()
	case protocol.PlayingStateStopped:
		h.player.Stop()
	}
	return nil
}

func (h *Handlers) handleSetVolume(_ context.Context, body []byte) error {
	m, err := protocol.DecodeSetVolume(body)
	if err != nil {
		return err
	}
	if m.Absolute {
		h.player.SetVolume(int(m.Volume))
	} else {
		h.player.SetVolumeDelta(int(m.Delta))
	}
	return nil
}

func (h *Handlers) handleSetActive(_ context.Context, body []byte) error {
	m, err := protocol.DecodeFlag(body)
	if err != nil {
		return err
	}
	if !m.Enabled {
		h.log.Info("deactivated by controller, stopping playback")
		h.player.Stop()
	}
	return nil
}

func (h *Handlers) handleSetMaxAudioQuality(_ context.Context, body []byte) error {
	m, err := protocol.DecodeAudioQualityChanged(body)
	if err != nil {
		return err
	}
	q := quality.FromProtocol(int(m.AudioQuality))
	if !q.Valid() {
		h.log.Warn("ignoring unknown max audio quality", "value", m.AudioQuality)
		return nil
	}
	if h.onQualityChange != nil {
		h.onQualityChange(q)
	}
	return nil
}

func (h *Handlers) handleSetLoopMode(_ context.Context, body []byte) error {
	m, err := protocol.DecodeSetLoopMode(body)
	if err != nil {
		return err
	}
	h.player.SetLoopMode(m.LoopMode)
	return nil
}

func (h *Handlers) handleSetShuffleMode(_ context.Context, body []byte) error {
	m, err := protocol.DecodeSetShuffleMode(body)
	if err != nil {
		return err
	}
	h.player.SetShuffleMode(m.Enabled, m.PivotQueueItemID)
	return nil
}

// handleSetAutoplayMode is a deliberate no-op; fetching similar tracks
// is not something this renderer does.
func (h *Handlers) handleSetAutoplayMode(_ context.Context, body []byte) error {
	h.log.Debug("autoplay mode ignored")
	return nil
}

func (h *Handlers) handleVolumeBroadcast(_ context.Context, body []byte) error {
	m, err := protocol.DecodeVolumeChanged(body)
	if err != nil {
		return err
	}
	h.player.SetVolume(int(m.Volume))
	return nil
}

func (h *Handlers) handleQueueState(_ context.Context, body []byte) error {
	m, err := protocol.DecodeQueueState(body)
	if err != nil {
		return err
	}
	h.queue.Load(queueTracks(m.Items), queue.Version{Major: m.VersionMajor, Minor: m.VersionMinor}, m.CurrentQueueItemID)
	h.log.Info("queue loaded", "tracks", len(m.Items), "version", m.VersionMajor)
	return nil
}

func (h *Handlers) handleQueueLoadTracks(_ context.Context, body []byte) error {
	m, err := protocol.DecodeQueueState(body)
	if err != nil {
		return err
	}
	h.queue.LoadAtPosition(queueTracks(m.Items), queue.Version{Major: m.VersionMajor, Minor: m.VersionMinor}, m.QueuePosition)
	h.log.Info("queue loaded at position", "tracks", len(m.Items), "position", m.QueuePosition)
	return nil
}

func queueTracks(items []protocol.QueueItem) []queue.Track {
	out := make([]queue.Track, len(items))
	for i, item := range items {
		out[i] = queue.Track{QueueItemID: item.QueueItemID, TrackID: item.TrackID}
	}
	return out
}

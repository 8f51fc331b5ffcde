// ABOUTME: State reporter: 5 s heartbeat plus event-triggered pushes
// ABOUTME: Maps player snapshots to StateUpdated messages for the session
package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/internal/protocol"
)

const heartbeatInterval = 5 * time.Second

// Sender delivers state reports to the controller; the WebSocket
// session implements it.
type Sender interface {
	SendStateUpdate(protocol.StateUpdated)
}

// StateReporter pushes reports when the player asks and on a heartbeat
// that only fires while playing.
type StateReporter struct {
	log    *slog.Logger
	player *Player
	sender Sender
}

// NewStateReporter wires a reporter between player and sender.
func NewStateReporter(log *slog.Logger, p *Player, sender Sender) *StateReporter {
	return &StateReporter{log: log, player: p, sender: sender}
}

// Run drives the heartbeat until ctx is cancelled.
func (r *StateReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.player.State() == backend.StatePlaying {
				r.ReportNow()
			}
		}
	}
}

// ReportNow builds and sends one report immediately.
func (r *StateReporter) ReportNow() {
	r.sender.SendStateUpdate(r.Build())
}

// Build assembles the wire report from the player and queue.
func (r *StateReporter) Build() protocol.StateUpdated {
	snap := r.player.Snapshot()
	version := r.player.Queue().Version()

	msg := protocol.StateUpdated{
		PlayingState:        wirePlayingState(snap.Kind),
		BufferState:         wireBufferState(snap.BufferState),
		PositionMs:          snap.AnchorMS,
		PositionTimestampMs: snap.AnchorTSMs,
		DurationMs:          snap.DurationMS,
		QueueVersionMajor:   version.Major,
		QueueVersionMinor:   version.Minor,
	}
	if snap.Track != nil {
		msg.QueueItemID = snap.Track.QueueItemID
	}
	return msg
}

// wirePlayingState maps player kinds onto the protocol's three states;
// loading and error both present as stopped.
func wirePlayingState(s backend.State) uint64 {
	switch s {
	case backend.StatePlaying:
		return protocol.PlayingStatePlaying
	case backend.StatePaused:
		return protocol.PlayingStatePaused
	default:
		return protocol.PlayingStateStopped
	}
}

func wireBufferState(s backend.BufferStatus) uint64 {
	switch s {
	case backend.BufferEmpty:
		return 1
	case backend.BufferLow:
		return 2
	case backend.BufferFull:
		return 4
	default:
		return 3
	}
}

// ABOUTME: The authoritative playback state machine
// ABOUTME: Orchestrates queue, metadata and sink; owns the timestamp-anchored position
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/internal/metadata"
	"github.com/qbz-connect/renderer/internal/protocol"
	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/queue"
)

// previousRestartThreshold separates "restart this track" from "go to
// the previous one".
const previousRestartThreshold = 3000 // ms

// Notifier carries player-initiated announcements toward the
// controller. The session implements it; a nil notifier drops them.
type Notifier interface {
	NotifyVolumeChanged(pct int)
	NotifyFileQuality(queueItemID uint64, q quality.ID, sampleRate, bitDepth int)
}

// Reporter is poked by the player whenever its state changed in a way
// the controller should see immediately.
type Reporter interface {
	ReportNow()
}

// Snapshot is a point-in-time copy of the playback state for reporting.
type Snapshot struct {
	Kind        backend.State
	Track       *queue.Track
	DurationMS  int64
	AnchorTSMs  int64 // monotonic-anchored wall instant of AnchorMS
	AnchorMS    int64
	PositionMS  int64 // extrapolated when playing, frozen otherwise
	Volume      int
	BufferState backend.BufferStatus
}

// Player serializes all playback transitions behind one mutex: no two
// operations ever overlap, which is what keeps the anchor coherent.
type Player struct {
	log   *slog.Logger
	queue *queue.Queue
	meta  *metadata.Service
	sink  backend.Sink

	// rewriteURL maps an upstream CDN URL to the URL handed to the
	// sink. The DLNA path registers with the audio proxy here; the
	// local path is identity. nil means identity.
	rewriteURL func(trackID, upstreamURL, mimeType string) string

	notifier Notifier
	reporter Reporter
	now      func() time.Time

	mu          sync.Mutex
	state       backend.State
	track       *queue.Track
	durationMS  int64
	anchorTS    time.Time
	anchorMS    int64
	volume      int
	fixedVolume bool
	nextHint    *protocol.QueueItem
}

// New wires a player over its collaborators.
func New(log *slog.Logger, q *queue.Queue, meta *metadata.Service, sink backend.Sink) *Player {
	p := &Player{
		log:    log,
		queue:  q,
		meta:   meta,
		sink:   sink,
		now:    time.Now,
		state:  backend.StateStopped,
		volume: 100,
	}
	sink.SetCallbacks(backend.Callbacks{
		OnTrackEnded:    p.onTrackEnded,
		OnPlaybackError: p.onPlaybackError,
	})
	return p
}

// SetNotifier installs the controller-facing announcement sink.
func (p *Player) SetNotifier(n Notifier) { p.notifier = n }

// SetReporter installs the state reporter poked on transitions.
func (p *Player) SetReporter(r Reporter) { p.reporter = r }

// SetURLRewriter installs the stream-URL mapping (the audio proxy).
func (p *Player) SetURLRewriter(f func(trackID, upstreamURL, mimeType string) string) {
	p.rewriteURL = f
}

// SetFixedVolume puts the player in fixed-volume mode: volume commands
// become no-ops and the reported volume is pinned at 100.
func (p *Player) SetFixedVolume(fixed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixedVolume = fixed
}

// Play starts or resumes playback. Returns false when there is nothing
// to play.
func (p *Player) Play(ctx context.Context, positionMS int64) bool {
	p.mu.Lock()

	switch p.state {
	case backend.StatePaused:
		if err := p.sink.Resume(); err != nil {
			p.log.Warn("resume failed", "error", err)
		}
		p.anchorTS = p.now()
		p.state = backend.StatePlaying
		p.mu.Unlock()
		p.report()
		return true
	case backend.StatePlaying:
		p.mu.Unlock()
		return true
	}

	if p.track == nil {
		if tr, ok := p.queue.Current(); ok {
			p.track = &tr
		} else if tr, ok := p.queue.Advance(); ok {
			p.track = &tr
		} else {
			p.mu.Unlock()
			return false
		}
	}
	track := *p.track
	p.mu.Unlock()

	return p.startTrack(ctx, track, positionMS)
}

// startTrack runs the loading path for a track and transitions to
// playing or error.
func (p *Player) startTrack(ctx context.Context, track queue.Track, positionMS int64) bool {
	p.setState(backend.StateLoading)

	rec, err := p.meta.GetMetadata(ctx, track.TrackID, true)
	if err != nil {
		p.log.Error("track load failed", "track_id", track.TrackID, "error", err)
		p.setState(backend.StateError)
		p.report()
		return false
	}

	url := rec.URL
	if p.rewriteURL != nil {
		url = p.rewriteURL(track.TrackID, rec.URL, rec.MimeType)
	}
	md := backend.Metadata{
		TrackID:    track.TrackID,
		Title:      rec.Title,
		Artist:     rec.Artist,
		Album:      rec.Album,
		ArtworkURL: rec.AlbumArtURL,
		DurationMS: rec.DurationMS,
		MimeType:   rec.MimeType,
	}

	if err := p.sink.Play(ctx, url, md); err != nil {
		p.log.Error("sink play failed", "track_id", track.TrackID, "error", err)
		p.setState(backend.StateError)
		p.report()
		return false
	}

	p.mu.Lock()
	p.track = &track
	p.durationMS = rec.DurationMS
	p.anchorTS = p.now()
	p.anchorMS = 0
	p.state = backend.StatePlaying
	p.mu.Unlock()

	if positionMS > 0 {
		p.Seek(positionMS)
	}
	if p.notifier != nil && rec.ActualQuality.Valid() {
		f := rec.ActualQuality.FormatDefaults()
		rate, depth := rec.SampleRate, rec.BitDepth
		if rate == 0 {
			rate = f.SampleRate
		}
		if depth == 0 {
			depth = f.BitDepth
		}
		p.notifier.NotifyFileQuality(track.QueueItemID, rec.ActualQuality, rate, depth)
	}
	p.report()
	return true
}

// Pause is legal only while playing; it freezes the anchor.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.state != backend.StatePlaying {
		p.mu.Unlock()
		return
	}
	if err := p.sink.Pause(); err != nil {
		p.log.Warn("pause failed", "error", err)
	}
	p.anchorMS = p.livePositionLocked()
	p.anchorTS = p.now()
	p.state = backend.StatePaused
	p.mu.Unlock()
	p.report()
}

// Stop is always legal and idempotent; the queue cursor survives.
func (p *Player) Stop() {
	p.mu.Lock()
	alreadyStopped := p.state == backend.StateStopped
	if !alreadyStopped {
		if err := p.sink.Stop(); err != nil {
			p.log.Warn("stop failed", "error", err)
		}
	}
	p.anchorTS = p.now()
	p.anchorMS = 0
	p.state = backend.StateStopped
	p.mu.Unlock()
	if !alreadyStopped {
		p.report()
	}
}

// LoadTrack switches to a different queue item (via stop) and starts
// it from the beginning.
func (p *Player) LoadTrack(ctx context.Context, item protocol.QueueItem) bool {
	p.mu.Lock()
	if p.state == backend.StatePlaying || p.state == backend.StatePaused {
		if err := p.sink.Stop(); err != nil {
			p.log.Warn("stop before load failed", "error", err)
		}
	}
	track := queue.Track{QueueItemID: item.QueueItemID, TrackID: item.TrackID}
	p.track = &track
	p.state = backend.StateStopped
	p.mu.Unlock()

	return p.startTrack(ctx, track, 0)
}

// Seek clamps to [0, duration-1000] and re-anchors. Rejected while
// stopped or without a track.
func (p *Player) Seek(positionMS int64) bool {
	p.mu.Lock()
	if p.track == nil || p.state == backend.StateStopped || p.state == backend.StateError {
		p.mu.Unlock()
		return false
	}
	clamped := positionMS
	if clamped < 0 {
		clamped = 0
	}
	if max := p.durationMS - 1000; max >= 0 && clamped > max {
		clamped = max
	}
	if err := p.sink.Seek(clamped); err != nil {
		p.log.Warn("seek failed", "error", err)
	}
	p.anchorTS = p.now()
	p.anchorMS = clamped
	p.mu.Unlock()
	p.report()
	return true
}

// NextTrack advances the queue and plays the next entry.
func (p *Player) NextTrack(ctx context.Context) bool {
	tr, ok := p.queue.Advance()
	if !ok {
		p.Stop()
		p.mu.Lock()
		p.track = nil
		p.mu.Unlock()
		return false
	}
	return p.switchTo(ctx, tr)
}

// PreviousTrack restarts the current track when more than 3 s in,
// otherwise moves the cursor back.
func (p *Player) PreviousTrack(ctx context.Context) bool {
	p.mu.Lock()
	pos := p.livePositionLocked()
	p.mu.Unlock()

	if pos > previousRestartThreshold {
		return p.Seek(0)
	}
	tr, ok := p.queue.Previous()
	if !ok {
		return false
	}
	return p.switchTo(ctx, tr)
}

func (p *Player) switchTo(ctx context.Context, tr queue.Track) bool {
	p.mu.Lock()
	wasActive := p.state == backend.StatePlaying || p.state == backend.StatePaused || p.state == backend.StateLoading
	if wasActive {
		if err := p.sink.Stop(); err != nil {
			p.log.Warn("stop before switch failed", "error", err)
		}
	}
	p.track = &tr
	p.state = backend.StateStopped
	p.mu.Unlock()
	return p.startTrack(ctx, tr, 0)
}

// SetVolume clamps, applies, caches and announces. No-op in
// fixed-volume mode.
func (p *Player) SetVolume(pct int) {
	p.mu.Lock()
	if p.fixedVolume {
		p.mu.Unlock()
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if err := p.sink.SetVolume(pct); err != nil {
		p.log.Warn("set volume failed", "error", err)
	}
	p.volume = pct
	p.mu.Unlock()

	if p.notifier != nil {
		p.notifier.NotifyVolumeChanged(pct)
	}
}

// SetVolumeDelta nudges the cached volume.
func (p *Player) SetVolumeDelta(delta int) {
	p.mu.Lock()
	cur := p.volume
	fixed := p.fixedVolume
	p.mu.Unlock()
	if fixed {
		return
	}
	p.SetVolume(cur + delta)
}

// Volume returns the effective volume (100 in fixed mode).
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fixedVolume {
		return 100
	}
	return p.volume
}

// SetLoopMode translates the controller's loop mode to a queue repeat
// mode.
func (p *Player) SetLoopMode(mode uint64) {
	var repeat queue.RepeatMode
	switch mode {
	case protocol.LoopModeRepeatOne:
		repeat = queue.RepeatOne
	case protocol.LoopModeRepeatAll:
		repeat = queue.RepeatAll
	default:
		repeat = queue.RepeatOff
	}
	p.queue.SetRepeat(repeat)
}

// SetShuffleMode toggles shuffle, pivoting on the current track when
// the controller names one.
func (p *Player) SetShuffleMode(enabled bool, pivotItemID uint64) {
	if pivotItemID == 0 {
		p.mu.Lock()
		if p.track != nil {
			pivotItemID = p.track.QueueItemID
		}
		p.mu.Unlock()
	}
	p.queue.SetShuffle(enabled, pivotItemID)
}

// SetNextTrackHint stashes the controller's auto-advance hint. The
// player consumes it exactly once on track end.
func (p *Player) SetNextTrackHint(item *protocol.QueueItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHint = item
}

// takeNextTrackHint is the get-and-clear half of the hint pair.
func (p *Player) takeNextTrackHint() *protocol.QueueItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	hint := p.nextHint
	p.nextHint = nil
	return hint
}

// onTrackEnded is the sink's natural-end callback.
func (p *Player) onTrackEnded() {
	p.mu.Lock()
	repeatOne := p.queue.Repeat() == queue.RepeatOne
	p.mu.Unlock()

	if repeatOne {
		p.mu.Lock()
		p.anchorTS = p.now()
		p.anchorMS = 0
		p.state = backend.StatePlaying
		track := p.track
		p.mu.Unlock()
		if track != nil {
			p.startTrack(context.Background(), *track, 0)
		}
		return
	}

	if hint := p.takeNextTrackHint(); hint != nil {
		p.LoadTrack(context.Background(), *hint)
		return
	}

	p.mu.Lock()
	p.track = nil
	p.anchorTS = p.now()
	p.anchorMS = 0
	p.state = backend.StateStopped
	p.mu.Unlock()
	p.report()
}

// onPlaybackError is the sink's failure callback.
func (p *Player) onPlaybackError(err error) {
	p.log.Error("playback error", "error", err)
	p.setState(backend.StateError)
	p.report()
}

// PositionMS extrapolates from the anchor while playing, otherwise
// returns the frozen value.
func (p *Player) PositionMS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.livePositionLocked()
}

func (p *Player) livePositionLocked() int64 {
	if p.state == backend.StatePlaying {
		return p.anchorMS + p.now().Sub(p.anchorTS).Milliseconds()
	}
	return p.anchorMS
}

// CurrentTrackID returns the loaded track's id, or "" when none.
func (p *Player) CurrentTrackID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return ""
	}
	return p.track.TrackID
}

// State returns the player's state kind.
func (p *Player) State() backend.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot captures the reporting view in one locked read.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Kind:        p.state,
		DurationMS:  p.durationMS,
		AnchorTSMs:  p.anchorTS.UnixMilli(),
		AnchorMS:    p.anchorMS,
		PositionMS:  p.livePositionLocked(),
		Volume:      p.volume,
		BufferState: p.sink.BufferStatus(),
	}
	if p.fixedVolume {
		s.Volume = 100
	}
	if p.track != nil {
		tr := *p.track
		s.Track = &tr
	}
	return s
}

// Queue exposes the queue for reporting.
func (p *Player) Queue() *queue.Queue { return p.queue }

func (p *Player) setState(s backend.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Player) report() {
	if p.reporter != nil {
		p.reporter.ReportNow()
	}
}

// ABOUTME: Audio sink abstraction shared by the DLNA and local backends
// ABOUTME: Command methods plus registered callbacks for events flowing back to the player
package backend

import "context"

// State is the sink-side playback state.
type State int

const (
	StateStopped State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	}
	return "unknown"
}

// BufferStatus summarizes the sink's buffer fill level.
type BufferStatus int

const (
	BufferEmpty BufferStatus = iota
	BufferLow
	BufferOK
	BufferFull
)

// Metadata describes the track handed to Play. DLNA sinks render it
// into DIDL-Lite; the local sink uses MimeType to pick a decoder and
// logs TrackID.
type Metadata struct {
	TrackID    string
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
	DurationMS int64
	MimeType   string
}

// Info identifies the connected sink device.
type Info struct {
	Name         string
	Manufacturer string
	Model        string
}

// Callbacks are the event hooks a sink fires toward the player. Any
// field may be nil. The sink never holds a reference to the player;
// this is the only channel back.
type Callbacks struct {
	OnStateChange   func(State)
	OnPositionMS    func(int64)
	OnBufferStatus  func(BufferStatus)
	OnTrackEnded    func()
	OnPlaybackError func(error)
}

// Sink is the polymorphic audio output. The two implementations are
// the DLNA control client and the local device backend.
type Sink interface {
	// Connect prepares the sink (resolves the device, probes
	// capabilities). Must be called before Play.
	Connect(ctx context.Context) error

	// Disconnect releases the device.
	Disconnect() error

	// SetCallbacks registers the event hooks. Call before Connect.
	SetCallbacks(cb Callbacks)

	// Play starts playback of url from the beginning.
	Play(ctx context.Context, url string, md Metadata) error

	// Pause suspends playback, keeping position.
	Pause() error

	// Resume continues from a pause.
	Resume() error

	// Stop ends playback.
	Stop() error

	// Seek jumps to a position in the current track.
	Seek(positionMS int64) error

	// PositionMS reports the sink's playback position.
	PositionMS() int64

	// SetVolume sets the device volume in percent.
	SetVolume(pct int) error

	// Volume reads the device volume in percent.
	Volume() (int, error)

	// State returns the sink-side playback state.
	State() State

	// BufferStatus returns the sink's buffer level.
	BufferStatus() BufferStatus

	// Info describes the connected device.
	Info() Info
}

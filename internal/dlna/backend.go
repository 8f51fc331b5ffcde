// ABOUTME: DLNA backend implementing the audio sink over UPnP AV control
// ABOUTME: AVTransport commands, debounced volume, and a polling loop with a loading grace period
package dlna

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/internal/quality"
)

const (
	pollInterval = 2 * time.Second

	// loadGrace ignores observed STOPPED after a Play; many devices
	// briefly report stopped while buffering the new URI.
	loadGrace = 5 * time.Second

	// volumeQuiet is the minimum gap between actual SetVolume sends.
	volumeQuiet = 200 * time.Millisecond
)

// Config identifies the target renderer.
type Config struct {
	IP          string
	Port        int
	FixedVolume bool
}

// Backend drives a DLNA/UPnP renderer. It satisfies backend.Sink; the
// audio bytes themselves flow device-side via the audio proxy URL
// handed to SetAVTransportURI.
type Backend struct {
	log      *slog.Logger
	cfg      Config
	capCache *CapabilityCache

	device *Device
	av     *soapClient
	rc     *soapClient
	cm     *soapClient
	caps   Capabilities

	mu           sync.Mutex
	cb           backend.Callbacks
	state        backend.State
	lastObserved string
	graceUntil   time.Time
	positionMS   int64
	volumeCache  int

	pollCancel context.CancelFunc

	volMu       sync.Mutex
	volLastSend time.Time
	volPending  int // -1 when nothing pending
	volTimer    *time.Timer
}

// New returns an unconnected DLNA backend.
func New(log *slog.Logger, cfg Config, capCache *CapabilityCache) *Backend {
	return &Backend{
		log:         log,
		cfg:         cfg,
		capCache:    capCache,
		state:       backend.StateStopped,
		volumeCache: 100,
		volPending:  -1,
	}
}

// SetCallbacks registers the player's event hooks.
func (b *Backend) SetCallbacks(cb backend.Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = cb
}

// Connect discovers the device description, probes capabilities (with
// the 24 h cache) and starts the state poll loop.
func (b *Backend) Connect(ctx context.Context) error {
	dev, err := DiscoverDevice(ctx, b.log, b.cfg.IP, b.cfg.Port)
	if err != nil {
		return err
	}
	b.device = dev
	b.av = newSOAPClient(b.log, dev.AVTransportURL, serviceAVTransport)
	if dev.RenderingControlURL != "" {
		b.rc = newSOAPClient(b.log, dev.RenderingControlURL, serviceRenderingControl)
	}
	if dev.ConnectionManagerURL != "" {
		b.cm = newSOAPClient(b.log, dev.ConnectionManagerURL, serviceConnectionManager)
	}

	b.caps = b.probeCapabilities(ctx)
	b.log.Info("dlna capabilities",
		"device", dev.FriendlyName, "flac", b.caps.SupportsFLAC,
		"max_rate", b.caps.MaxSampleRate, "max_depth", b.caps.MaxBitDepth,
		"max_quality", int(b.caps.MaxQuality))

	pollCtx, cancel := context.WithCancel(context.Background())
	b.pollCancel = cancel
	go b.pollLoop(pollCtx)
	return nil
}

func (b *Backend) probeCapabilities(ctx context.Context) Capabilities {
	if caps, ok := b.capCache.Get(b.device.UDN); ok {
		return caps
	}
	if b.cm == nil {
		return DeriveCapabilities(nil, b.device.Manufacturer, b.device.ModelName)
	}
	values, err := b.cm.Call(ctx, "GetProtocolInfo")
	if err != nil {
		b.log.Warn("GetProtocolInfo failed, assuming MP3 only", "error", err)
		return DeriveCapabilities(nil, b.device.Manufacturer, b.device.ModelName)
	}
	caps := DeriveCapabilities(ParseSinkString(values["Sink"]), b.device.Manufacturer, b.device.ModelName)
	b.capCache.Put(b.device.UDN, caps)
	return caps
}

// Capabilities returns the derived device capabilities.
func (b *Backend) Capabilities() Capabilities { return b.caps }

// MaxQuality returns the quality ceiling derived from the device.
func (b *Backend) MaxQuality() quality.ID {
	if b.device == nil {
		return quality.FLAC
	}
	return b.caps.MaxQuality
}

// Disconnect stops the poll loop.
func (b *Backend) Disconnect() error {
	if b.pollCancel != nil {
		b.pollCancel()
		b.pollCancel = nil
	}
	return nil
}

// Info describes the discovered device.
func (b *Backend) Info() backend.Info {
	if b.device == nil {
		return backend.Info{Name: "DLNA renderer"}
	}
	return backend.Info{
		Name:         b.device.FriendlyName,
		Manufacturer: b.device.Manufacturer,
		Model:        b.device.ModelName,
	}
}

// Play hands the stream URL and its DIDL metadata to the device, then
// starts transport.
func (b *Backend) Play(ctx context.Context, url string, md backend.Metadata) error {
	b.setState(backend.StateLoading)

	didl := BuildDIDL(md, url, b.caps.Entries)
	_, err := b.av.Call(ctx, "SetAVTransportURI",
		Arg{"InstanceID", "0"},
		Arg{"CurrentURI", url},
		Arg{"CurrentURIMetaData", didl},
	)
	if err != nil {
		b.setState(backend.StateError)
		return err
	}
	if _, err := b.av.Call(ctx, "Play", Arg{"InstanceID", "0"}, Arg{"Speed", "1"}); err != nil {
		b.setState(backend.StateError)
		return err
	}

	b.mu.Lock()
	b.graceUntil = time.Now().Add(loadGrace)
	b.positionMS = 0
	b.lastObserved = ""
	b.mu.Unlock()
	b.setState(backend.StatePlaying)
	return nil
}

// Pause suspends transport.
func (b *Backend) Pause() error {
	if _, err := b.av.Call(context.Background(), "Pause", Arg{"InstanceID", "0"}); err != nil {
		return err
	}
	b.setState(backend.StatePaused)
	return nil
}

// Resume continues transport after a pause.
func (b *Backend) Resume() error {
	if _, err := b.av.Call(context.Background(), "Play", Arg{"InstanceID", "0"}, Arg{"Speed", "1"}); err != nil {
		return err
	}
	b.setState(backend.StatePlaying)
	return nil
}

// Stop ends transport.
func (b *Backend) Stop() error {
	_, err := b.av.Call(context.Background(), "Stop", Arg{"InstanceID", "0"})
	b.setState(backend.StateStopped)
	return err
}

// Seek jumps to a position using REL_TIME.
func (b *Backend) Seek(positionMS int64) error {
	_, err := b.av.Call(context.Background(), "Seek",
		Arg{"InstanceID", "0"},
		Arg{"Unit", "REL_TIME"},
		Arg{"Target", formatDuration(positionMS)},
	)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.positionMS = positionMS
	b.mu.Unlock()
	return nil
}

// PositionMS returns the last polled device position.
func (b *Backend) PositionMS() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionMS
}

// SetVolume sets the device volume, debounced so a burst of UI
// updates produces at most one send per quiet window.
func (b *Backend) SetVolume(pct int) error {
	if b.cfg.FixedVolume || b.rc == nil {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	b.mu.Lock()
	b.volumeCache = pct
	b.mu.Unlock()

	b.volMu.Lock()
	defer b.volMu.Unlock()

	since := time.Since(b.volLastSend)
	if since >= volumeQuiet && b.volTimer == nil {
		b.volLastSend = time.Now()
		go b.sendVolume(pct)
		return nil
	}

	// Inside the quiet window: remember the latest value and schedule a
	// single deferred send at the window's end.
	b.volPending = pct
	if b.volTimer == nil {
		wait := volumeQuiet - since
		if wait < 0 {
			wait = volumeQuiet
		}
		b.volTimer = time.AfterFunc(wait, b.flushVolume)
	}
	return nil
}

func (b *Backend) flushVolume() {
	b.volMu.Lock()
	pct := b.volPending
	b.volPending = -1
	b.volTimer = nil
	b.volLastSend = time.Now()
	b.volMu.Unlock()
	if pct >= 0 {
		b.sendVolume(pct)
	}
}

// sendVolume performs the actual SOAP call with a single attempt; the
// UI will send another value soon enough if it fails.
func (b *Backend) sendVolume(pct int) {
	_, err := b.rc.CallN(context.Background(), 1, "SetVolume",
		Arg{"InstanceID", "0"},
		Arg{"Channel", "Master"},
		Arg{"DesiredVolume", strconv.Itoa(pct)},
	)
	if err != nil {
		b.log.Warn("SetVolume failed", "error", err)
	}
}

// Volume reads the device volume; in fixed-volume mode it is always
// reported as 100.
func (b *Backend) Volume() (int, error) {
	if b.cfg.FixedVolume || b.rc == nil {
		return 100, nil
	}
	values, err := b.rc.CallN(context.Background(), 1, "GetVolume",
		Arg{"InstanceID", "0"},
		Arg{"Channel", "Master"},
	)
	if err != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.volumeCache, err
	}
	vol, err := strconv.Atoi(values["CurrentVolume"])
	if err != nil {
		return 100, fmt.Errorf("dlna: bad CurrentVolume %q", values["CurrentVolume"])
	}
	b.mu.Lock()
	b.volumeCache = vol
	b.mu.Unlock()
	return vol, nil
}

// State returns the sink state.
func (b *Backend) State() backend.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BufferStatus is device-side and unobservable over UPnP; report OK.
func (b *Backend) BufferStatus() backend.BufferStatus {
	return backend.BufferOK
}

// pollLoop watches the device transport every 2 s and relays observed
// transitions through the callbacks.
func (b *Backend) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *Backend) pollOnce(ctx context.Context) {
	values, err := b.av.CallN(ctx, 1, "GetTransportInfo", Arg{"InstanceID", "0"})
	if err != nil {
		b.log.Debug("GetTransportInfo failed", "error", err)
		return
	}
	observed := values["CurrentTransportState"]

	b.mu.Lock()
	inGrace := time.Now().Before(b.graceUntil)
	previous := b.lastObserved
	ourState := b.state
	if !(observed == "STOPPED" && inGrace) {
		b.lastObserved = observed
	}
	b.mu.Unlock()

	if observed == "STOPPED" && inGrace {
		return
	}

	switch observed {
	case "PLAYING":
		if pos, ok := b.fetchPosition(ctx); ok {
			b.mu.Lock()
			b.positionMS = pos
			cb := b.cb.OnPositionMS
			b.mu.Unlock()
			if cb != nil {
				cb(pos)
			}
		}
		if ourState != backend.StatePlaying && ourState != backend.StateLoading {
			b.setState(backend.StatePlaying)
		}
	case "PAUSED_PLAYBACK":
		if ourState != backend.StatePaused {
			b.setState(backend.StatePaused)
		}
	case "STOPPED":
		if previous == "PLAYING" && ourState == backend.StatePlaying {
			// A natural track end: the device ran out of audio.
			b.setState(backend.StateStopped)
			b.mu.Lock()
			ended := b.cb.OnTrackEnded
			b.mu.Unlock()
			if ended != nil {
				ended()
			}
			return
		}
		if ourState == backend.StatePlaying || ourState == backend.StatePaused {
			b.setState(backend.StateStopped)
		}
	}
}

func (b *Backend) fetchPosition(ctx context.Context) (int64, bool) {
	values, err := b.av.CallN(ctx, 1, "GetPositionInfo", Arg{"InstanceID", "0"})
	if err != nil {
		return 0, false
	}
	ms, err := parseDuration(values["RelTime"])
	if err != nil {
		return 0, false
	}
	return ms, true
}

func (b *Backend) setState(s backend.State) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	cb := b.cb.OnStateChange
	b.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// parseDuration converts h:mm:ss (optionally with a fractional part)
// to milliseconds.
func parseDuration(s string) (int64, error) {
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0, fmt.Errorf("dlna: no position")
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("dlna: bad duration %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("dlna: bad duration %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("dlna: bad duration %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("dlna: bad duration %q", s)
	}
	return int64((float64(h*3600+m*60) + sec) * 1000), nil
}

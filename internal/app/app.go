// ABOUTME: Application orchestrator: wiring, startup/shutdown sequencing
// ABOUTME: Builds every component from config and manages the per-handoff session lifecycle
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbz-connect/renderer/internal/backend"
	"github.com/qbz-connect/renderer/internal/backend/local"
	"github.com/qbz-connect/renderer/internal/config"
	"github.com/qbz-connect/renderer/internal/discovery"
	"github.com/qbz-connect/renderer/internal/dlna"
	"github.com/qbz-connect/renderer/internal/handlers"
	"github.com/qbz-connect/renderer/internal/metadata"
	"github.com/qbz-connect/renderer/internal/player"
	"github.com/qbz-connect/renderer/internal/proxy"
	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/queue"
	"github.com/qbz-connect/renderer/internal/rest"
	"github.com/qbz-connect/renderer/internal/session"
	"github.com/qbz-connect/renderer/internal/token"
	"github.com/qbz-connect/renderer/pkg/audio/output"
)

const apiHost = "https://www.qobuz.com"

// ErrAuth marks startup failures that should exit with the
// authentication code.
var ErrAuth = errors.New("authentication failed")

// App owns all long-lived components.
type App struct {
	log *slog.Logger
	cfg *config.Config

	store    *token.Store
	rest     *rest.Client
	meta     *metadata.Service
	queue    *queue.Queue
	sink     backend.Sink
	capCache *dlna.CapabilityCache
	player   *player.Player
	proxy    *proxy.Proxy
	endpoint *discovery.Endpoint
	announce *discovery.Announcer

	mu            sync.Mutex
	sessionCancel context.CancelFunc
	effective     quality.ID
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	a := &App{
		log:      log,
		cfg:      cfg,
		store:    token.NewStore(token.AppCredentials{AppID: cfg.Qobuz.AppID, Secret: cfg.Qobuz.AppSecret}),
		capCache: dlna.NewCapabilityCache(),
	}
	a.rest = rest.NewClient(log, apiHost, a.store)

	switch cfg.Backend.Type {
	case "dlna":
		a.sink = dlna.New(log, dlna.Config{
			IP:          cfg.Backend.DLNA.IP,
			Port:        cfg.Backend.DLNA.Port,
			FixedVolume: cfg.Backend.DLNA.FixedVolume,
		}, a.capCache)
	case "local":
		a.sink = local.New(log, local.Config{
			Device:     cfg.Backend.Local.Device,
			BufferSize: cfg.Backend.Local.BufferSize,
		}, output.NewOto(log))
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}

	return a, nil
}

// Run starts everything and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.rest.Login(ctx, a.cfg.Qobuz.Email, a.cfg.Qobuz.Password); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if err := a.rest.StartSession(ctx); err != nil {
		a.log.Warn("session start failed, continuing without api session", "error", err)
	}

	if err := a.sink.Connect(ctx); err != nil {
		return fmt.Errorf("backend connect: %w", err)
	}

	a.effective = a.resolveQuality()
	a.log.Info("effective max quality", "quality", int(a.effective))

	a.meta = metadata.NewService(a.log, a.rest, a.effective)
	a.queue = queue.New(a.log, preloadAdapter{a})
	a.player = player.New(a.log, a.queue, a.meta, a.sink)
	a.player.SetFixedVolume(a.cfg.Backend.Type == "dlna" && a.cfg.Backend.DLNA.FixedVolume)

	lanIP, err := discovery.LanIP()
	if err != nil {
		return fmt.Errorf("no usable lan address: %w", err)
	}

	if a.cfg.Backend.Type == "dlna" {
		a.proxy = proxy.New(a.log, a.meta, lanIP, a.cfg.Server.ProxyPort)
		a.player.SetURLRewriter(func(trackID, upstreamURL, mimeType string) string {
			return a.proxy.Register(trackID, upstreamURL, mimeType)
		})
		go func() {
			if err := a.proxy.Serve(a.cfg.Server.BindAddress); err != nil {
				a.log.Error("audio proxy failed", "error", err)
			}
		}()
	}

	a.endpoint = discovery.NewEndpoint(a.log, a.store,
		a.cfg.Device.Name, a.cfg.Device.UUID, a.cfg.Server.HTTPPort,
		a.currentQuality, func(tk token.ConnectTokens) { a.onHandoff(ctx, tk) })
	go func() {
		if err := a.endpoint.Serve(a.cfg.Server.BindAddress); err != nil {
			a.log.Error("discovery endpoint failed", "error", err)
		}
	}()

	a.announce = discovery.NewAnnouncer(a.log)
	if err := a.announce.Announce(a.cfg.Device.Name, a.cfg.Device.UUID, a.cfg.Server.HTTPPort); err != nil {
		a.log.Warn("mdns announce failed, controllers must be pointed manually", "error", err)
	}

	preloadCtx, cancelPreload := context.WithCancel(ctx)
	defer cancelPreload()
	go a.queue.Run(preloadCtx)

	a.log.Info("renderer ready",
		"device", a.cfg.Device.Name, "backend", a.cfg.Backend.Type,
		"http_port", a.cfg.Server.HTTPPort)

	<-ctx.Done()
	a.shutdown()
	return nil
}

// onHandoff starts (or replaces) the Connect session for a token
// bundle delivered by the controller.
func (a *App) onHandoff(ctx context.Context, tk token.ConnectTokens) {
	a.mu.Lock()
	if a.sessionCancel != nil {
		a.sessionCancel()
	}
	sessCtx, cancel := context.WithCancel(ctx)
	a.sessionCancel = cancel
	a.mu.Unlock()

	if tk.API.JWT != "" {
		a.rest.SetUserAuthToken(tk.API.JWT)
	}

	uuidBytes := []byte(a.cfg.Device.UUID)
	if u, err := uuid.Parse(a.cfg.Device.UUID); err == nil {
		uuidBytes = u[:]
	}
	sess := session.New(a.log, session.Config{
		Tokens:     tk,
		DeviceName: a.cfg.Device.Name,
		DeviceUUID: uuidBytes,
		MaxQuality: a.currentQuality(),
	})

	h := handlers.New(a.log, a.player, a.queue, func(q quality.ID) {
		a.mu.Lock()
		a.effective = q
		a.mu.Unlock()
		a.meta.SetMaxQuality(q)
		sess.SendMaxQualityChanged(q)
	})
	h.RegisterAll(sess)

	reporter := player.NewStateReporter(a.log, a.player, sess)
	a.player.SetReporter(reporter)
	a.player.SetNotifier(sess)

	// Queued until the session reaches live, then flushed after join.
	info := a.sink.Info()
	sess.SendDeviceInfoUpdated(a.cfg.Device.Name, info.Manufacturer, info.Model)
	sess.SendDeviceQualityChanged(a.currentQuality())

	go reporter.Run(sessCtx)
	go func() {
		if err := sess.Run(sessCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("connect session ended", "error", err)
		}
	}()
}

// resolveQuality turns max_quality 0 (auto) into a concrete ceiling.
func (a *App) resolveQuality() quality.ID {
	if q := quality.ID(a.cfg.Qobuz.MaxQuality); q.Valid() {
		return q
	}
	if d, ok := a.sink.(*dlna.Backend); ok {
		return d.MaxQuality()
	}
	// The local path decodes FLAC up to 24/192 itself.
	return quality.HiRes192
}

func (a *App) currentQuality() quality.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effective
}

// shutdown stops components in the documented order; every stop is
// best-effort.
func (a *App) shutdown() {
	a.log.Info("shutting down")

	a.mu.Lock()
	if a.sessionCancel != nil {
		a.sessionCancel()
		a.sessionCancel = nil
	}
	a.mu.Unlock()

	if a.player != nil {
		a.player.Stop()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if a.announce != nil {
		a.announce.Shutdown()
	}
	if a.endpoint != nil {
		if err := a.endpoint.Shutdown(stopCtx); err != nil {
			a.log.Warn("discovery shutdown failed", "error", err)
		}
	}
	if a.proxy != nil {
		if err := a.proxy.Shutdown(stopCtx); err != nil {
			a.log.Warn("proxy shutdown failed", "error", err)
		}
	}
	if err := a.sink.Disconnect(); err != nil {
		a.log.Warn("backend disconnect failed", "error", err)
	}
	a.capCache.Clear()
	a.store.Clear()
}

// preloadAdapter lets the queue warm tracks through the metadata
// service without importing it.
type preloadAdapter struct{ a *App }

func (p preloadAdapter) Preload(ctx context.Context, trackID string) error {
	_, err := p.a.meta.GetMetadata(ctx, trackID, true)
	return err
}

// ABOUTME: HTTP audio proxy hiding short-lived CDN URLs behind stable local URLs
// ABOUTME: Forwards Range requests, refreshes near-expired upstream URLs, streams chunked
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// refreshAge forces a fresh upstream URL before the CDN's nominal
	// 5-minute expiry can bite mid-request.
	refreshAge = 240 * time.Second

	// chunkSize is the copy buffer for streaming bodies.
	chunkSize = 64 * 1024

	connectTimeout = 30 * time.Second
)

// URLProvider resolves a fresh upstream URL for a track. The metadata
// service implements this.
type URLProvider interface {
	GetStreamingURL(ctx context.Context, trackID string) (string, error)
}

type entry struct {
	upstreamURL string
	contentType string
	fetchedAt   time.Time
}

// Proxy serves GET /audio/{track_id}[.flac|.mp3], translating each
// request into a ranged fetch of the registered upstream URL.
type Proxy struct {
	log      *slog.Logger
	provider URLProvider
	host     string
	port     int
	now      func() time.Time

	mu     sync.Mutex
	tracks map[string]*entry

	srv *http.Server
}

// New returns a proxy that advertises URLs under host:port.
func New(log *slog.Logger, provider URLProvider, host string, port int) *Proxy {
	p := &Proxy{
		log:      log,
		provider: provider,
		host:     host,
		port:     port,
		now:      time.Now,
		tracks:   make(map[string]*entry),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/", p.handleAudio)
	p.srv = &http.Server{Handler: mux}
	return p
}

// Register stores a track's upstream URL and returns the stable local
// URL to hand to the renderer. Re-registering replaces the upstream.
func (p *Proxy) Register(trackID, upstreamURL, contentType string) string {
	p.mu.Lock()
	p.tracks[trackID] = &entry{
		upstreamURL: upstreamURL,
		contentType: contentType,
		fetchedAt:   p.now(),
	}
	p.mu.Unlock()
	return fmt.Sprintf("http://%s:%d/audio/%s%s", p.host, p.port, trackID, extFor(contentType))
}

func extFor(contentType string) string {
	if strings.Contains(contentType, "mpeg") || strings.Contains(contentType, "mp3") {
		return ".mp3"
	}
	return ".flac"
}

// Serve listens on addr until the listener is closed via Shutdown.
func (p *Proxy) Serve(bindAddr string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, p.port))
	if err != nil {
		return fmt.Errorf("proxy: listen: %w", err)
	}
	p.log.Info("audio proxy listening", "addr", ln.Addr().String())
	if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	return p.srv.Shutdown(ctx)
}

func (p *Proxy) handleAudio(w http.ResponseWriter, r *http.Request) {
	trackID := strings.TrimPrefix(r.URL.Path, "/audio/")
	trackID = strings.TrimSuffix(strings.TrimSuffix(trackID, ".flac"), ".mp3")

	p.mu.Lock()
	e, ok := p.tracks[trackID]
	p.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	upstream := e.upstreamURL
	if p.now().Sub(e.fetchedAt) >= refreshAge {
		fresh, err := p.provider.GetStreamingURL(r.Context(), trackID)
		if err != nil {
			p.log.Warn("upstream url refresh failed", "track_id", trackID, "error", err)
			http.Error(w, "upstream refresh failed", http.StatusBadGateway)
			return
		}
		p.mu.Lock()
		e.upstreamURL = fresh
		e.fetchedAt = p.now()
		p.mu.Unlock()
		upstream = fresh
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstream, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusBadGateway)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	// A fresh client per request: a stalled long-lived upstream must
	// not wedge later registrations.
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			ResponseHeaderTimeout: connectTimeout,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		p.log.Warn("upstream request failed", "track_id", trackID, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		p.log.Warn("upstream status", "track_id", trackID, "status", resp.StatusCode)
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", e.contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if v := resp.Header.Get("Content-Length"); v != "" {
		w.Header().Set("Content-Length", v)
	}
	if v := resp.Header.Get("Content-Range"); v != "" {
		w.Header().Set("Content-Range", v)
	}
	w.WriteHeader(resp.StatusCode)

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		if r.Context().Err() != nil || isConnReset(err) {
			// Device dropped the connection; business as usual when a
			// renderer seeks or skips.
			p.log.Debug("client disconnected mid-stream", "track_id", trackID)
			return
		}
		p.log.Warn("stream copy failed", "track_id", trackID, "error", err)
	}
}

func isConnReset(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

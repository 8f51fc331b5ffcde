// ABOUTME: LAN discovery HTTP endpoint for controller probing and token handoff
// ABOUTME: Three GETs for device info plus the POST that delivers the session bundle
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/token"
	"github.com/qbz-connect/renderer/internal/version"
)

// Endpoint is the unauthenticated HTTP surface the controller probes
// after mDNS discovery. It hands out public device metadata and
// receives the token bundle.
type Endpoint struct {
	log        *slog.Logger
	store      *token.Store
	deviceName string
	deviceUUID string
	port       int

	// qualityFn reports the current effective quality for display.
	qualityFn func() quality.ID

	// onConnect fires on every valid handoff; a new POST replaces the
	// stored session.
	onConnect func(token.ConnectTokens)

	srv *http.Server
}

// NewEndpoint builds the discovery surface.
func NewEndpoint(log *slog.Logger, store *token.Store, deviceName, deviceUUID string, port int,
	qualityFn func() quality.ID, onConnect func(token.ConnectTokens)) *Endpoint {

	e := &Endpoint{
		log:        log,
		store:      store,
		deviceName: deviceName,
		deviceUUID: deviceUUID,
		port:       port,
		qualityFn:  qualityFn,
		onConnect:  onConnect,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleRoot)
	mux.HandleFunc("/streamcore/get-display-info", e.handleDisplayInfo)
	mux.HandleFunc("/streamcore/get-connect-info", e.handleConnectInfo)
	mux.HandleFunc("/streamcore/connect-to-qconnect", e.handleConnect)
	e.srv = &http.Server{Handler: mux}
	return e
}

// Serve listens until Shutdown.
func (e *Endpoint) Serve(bindAddr string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, e.port))
	if err != nil {
		return fmt.Errorf("discovery: listen: %w", err)
	}
	e.log.Info("discovery endpoint listening", "addr", ln.Addr().String())
	if err := e.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	return e.srv.Shutdown(ctx)
}

func (e *Endpoint) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, "%s %s\n", version.Product, version.Version)
}

func (e *Endpoint) handleDisplayInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":               "SPEAKER",
		"friendly_name":      e.deviceName,
		"model_display_name": version.Product,
		"brand_display_name": version.Manufacturer,
		"serial_number":      e.deviceUUID,
		"max_audio_quality":  e.qualityFn().DisplayName(),
	})
}

func (e *Endpoint) handleConnectInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"current_session_id": e.store.Tokens().SessionID,
		"app_id":             e.store.Credentials().AppID,
	})
}

// handoffBody is the controller's handoff POST payload.
type handoffBody struct {
	SessionID   string `json:"session_id"`
	JwtQConnect struct {
		Jwt      string `json:"jwt"`
		Exp      int64  `json:"exp"`
		Endpoint string `json:"endpoint"`
	} `json:"jwt_qconnect"`
	JwtAPI struct {
		Jwt string `json:"jwt"`
		Exp int64  `json:"exp"`
	} `json:"jwt_api"`
}

func (e *Endpoint) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body handoffBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	tokens := token.ConnectTokens{
		SessionID: body.SessionID,
		WS: token.WSToken{
			JWT:      body.JwtQConnect.Jwt,
			ExpS:     body.JwtQConnect.Exp,
			Endpoint: body.JwtQConnect.Endpoint,
		},
		API: token.APIToken{
			JWT:  body.JwtAPI.Jwt,
			ExpS: body.JwtAPI.Exp,
		},
	}
	if !tokens.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing fields"})
		return
	}

	e.store.SetTokens(tokens)
	e.log.Info("controller handoff received", "session_id", tokens.SessionID)
	if e.onConnect != nil {
		e.onConnect(tokens)
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

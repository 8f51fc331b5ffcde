// ABOUTME: Holds the controller-handed session bundle and app credentials
// ABOUTME: Short-lived JWTs with expirations, replaced wholesale on each handoff
package token

import (
	"sync"
	"time"
)

// WSToken grants access to the Connect WebSocket endpoint.
type WSToken struct {
	JWT      string
	ExpS     int64 // Unix seconds
	Endpoint string
}

// APIToken grants access to the vendor REST API on behalf of the
// controller's user.
type APIToken struct {
	JWT  string
	ExpS int64
}

// ConnectTokens is the session bundle delivered by the controller via
// the discovery endpoint's handoff POST.
type ConnectTokens struct {
	SessionID string // canonical text UUID
	WS        WSToken
	API       APIToken
}

// Valid reports whether the bundle is usable: session id, websocket
// jwt, expiry and endpoint must all be present.
func (t ConnectTokens) Valid() bool {
	return t.SessionID != "" && t.WS.JWT != "" && t.WS.ExpS != 0 && t.WS.Endpoint != ""
}

// WSExpired reports whether the websocket token is expired or about to
// expire. The 60 s margin means we stop reconnect attempts before the
// server would reject the jwt anyway.
func (t ConnectTokens) WSExpired(now time.Time) bool {
	return now.Unix()+60 >= t.WS.ExpS
}

// AppCredentials are the opaque application id and signing secret the
// REST client uses. Obtaining them is out of scope here; they arrive
// via configuration.
type AppCredentials struct {
	AppID  string
	Secret string
}

// Store keeps the current session bundle and app credentials. A new
// handoff replaces the previous bundle; there is never more than one
// active session.
type Store struct {
	mu     sync.RWMutex
	tokens ConnectTokens
	creds  AppCredentials
}

// NewStore returns a store with the given app credentials and no
// session tokens yet.
func NewStore(creds AppCredentials) *Store {
	return &Store{creds: creds}
}

// SetTokens replaces the stored session bundle.
func (s *Store) SetTokens(t ConnectTokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
}

// Tokens returns the current session bundle (zero value before any
// handoff).
func (s *Store) Tokens() ConnectTokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Credentials returns the app credentials.
func (s *Store) Credentials() AppCredentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Clear drops the session bundle, keeping app credentials.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = ConnectTokens{}
}

// ABOUTME: Signed REST client for the vendor API
// ABOUTME: Implements login, session start, track metadata and file URL calls
package rest

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/token"
)

const (
	basePath   = "/api.json/0.2"
	refererURL = "https://play.qobuz.com/"
	userAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Metadata is the normalized track record produced from track/get.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtURL string
	DurationMS  int64
}

// FileURL is the result of track/getFileUrl. FormatID is the quality
// the server actually granted, which may be lower than requested.
type FileURL struct {
	URL        string
	FormatID   quality.ID
	SampleRate int
	BitDepth   int
	MimeType   string
}

// Client issues signed calls against the vendor REST API. All calls
// share a 10 s total timeout.
type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
	store   *token.Store
	now     func() time.Time

	mu            sync.Mutex
	userAuthToken string
	sessionID     string
	sessionExpiry time.Time
}

// NewClient returns a client for the given API host, e.g.
// "https://www.qobuz.com".
func NewClient(log *slog.Logger, host string, store *token.Store) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(host, "/") + basePath,
		http:    &http.Client{Timeout: 10 * time.Second},
		store:   store,
		now:     time.Now,
	}
}

// SetUserAuthToken installs a user token obtained out of band (the
// handoff bundle's api jwt doubles as one).
func (c *Client) SetUserAuthToken(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAuthToken = tok
}

// sign builds request_ts and request_sig for a call to /<obj>/<action>
// with the given signed parameters, per the vendor's recipe: object,
// action, ASCII-sorted key+value pairs, fractional-second timestamp,
// app secret, all concatenated and MD5'd.
func (c *Client) sign(obj, action string, signed map[string]string) (ts, sig string) {
	var b strings.Builder
	b.WriteString(obj)
	b.WriteString(action)

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(signed[k])
	}

	ts = fmt.Sprintf("%.6f", float64(c.now().UnixMicro())/1e6)
	b.WriteString(ts)
	b.WriteString(c.store.Credentials().Secret)

	return ts, fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}

// call issues one API request and decodes the JSON body on HTTP 200.
// Any other status is an error; 401/403 additionally log at warning
// since they usually mean a signing or token problem.
func (c *Client) call(ctx context.Context, method, obj, action string, params url.Values, signed map[string]string, form url.Values, out any) error {
	if signed != nil {
		ts, sig := c.sign(obj, action, signed)
		params.Set("request_ts", ts)
		params.Set("request_sig", sig)
	}

	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, obj, action, params.Encode())
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.Header.Set("X-App-Id", c.store.Credentials().AppID)
	req.Header.Set("Referer", refererURL)
	req.Header.Set("Origin", strings.TrimRight(refererURL, "/"))
	req.Header.Set("User-Agent", userAgent)
	c.mu.Lock()
	if c.userAuthToken != "" {
		req.Header.Set("X-User-Auth-Token", c.userAuthToken)
	}
	if c.sessionID != "" {
		req.Header.Set("X-Session-Id", c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s/%s: %w", obj, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.log.Warn("api call rejected", "call", obj+"/"+action, "status", resp.StatusCode)
		}
		return fmt.Errorf("rest: %s/%s: status %d", obj, action, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: %s/%s: decode: %w", obj, action, err)
	}
	return nil
}

// Login performs user/login with email and password and stores the
// resulting user auth token.
func (c *Client) Login(ctx context.Context, email, password string) error {
	params := url.Values{}
	params.Set("email", email)
	params.Set("password", password)
	params.Set("app_id", c.store.Credentials().AppID)

	form := url.Values{}
	form.Set("extra", "partner")

	var out struct {
		UserAuthToken string `json:"user_auth_token"`
	}
	if err := c.call(ctx, http.MethodPost, "user", "login", params, nil, form, &out); err != nil {
		return err
	}
	if out.UserAuthToken == "" {
		return fmt.Errorf("rest: login succeeded but returned no token")
	}
	c.mu.Lock()
	c.userAuthToken = out.UserAuthToken
	c.mu.Unlock()
	c.log.Info("logged in to vendor api")
	return nil
}

// StartSession performs session/start and stores the session id used
// in X-Session-Id from then on.
func (c *Client) StartSession(ctx context.Context) error {
	params := url.Values{}
	params.Set("profile", "qbz-1")

	var out struct {
		SessionID string `json:"session_id"`
		ExpiresAt int64  `json:"expires_at"`
	}
	err := c.call(ctx, http.MethodPost, "session", "start", params, map[string]string{"profile": "qbz-1"}, nil, &out)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionID = out.SessionID
	c.sessionExpiry = time.Unix(out.ExpiresAt, 0)
	c.mu.Unlock()
	return nil
}

// SessionValid reports whether the REST session is usable, with a 60 s
// safety margin before expiry.
func (c *Client) SessionValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID != "" && c.sessionExpiry.Add(-60*time.Second).After(c.now())
}

// TrackMetadata fetches and normalizes track/get for a track id.
// Missing fields come back as empty strings or zero.
func (c *Client) TrackMetadata(ctx context.Context, trackID string) (Metadata, error) {
	params := url.Values{}
	params.Set("track_id", trackID)
	params.Set("app_id", c.store.Credentials().AppID)

	var out struct {
		Title     string  `json:"title"`
		Duration  float64 `json:"duration"`
		Performer struct {
			Name string `json:"name"`
		} `json:"performer"`
		Album struct {
			Title string `json:"title"`
			Image struct {
				Large string `json:"large"`
				Small string `json:"small"`
			} `json:"image"`
		} `json:"album"`
	}
	if err := c.call(ctx, http.MethodGet, "track", "get", params, nil, nil, &out); err != nil {
		return Metadata{}, err
	}

	art := out.Album.Image.Large
	if art == "" {
		art = out.Album.Image.Small
	}
	return Metadata{
		Title:       out.Title,
		Artist:      out.Performer.Name,
		Album:       out.Album.Title,
		AlbumArtURL: art,
		DurationMS:  int64(out.Duration * 1000),
	}, nil
}

// TrackFileURL fetches a signed streaming URL for a track at the given
// quality. The call is signed over format_id, intent and track_id.
func (c *Client) TrackFileURL(ctx context.Context, trackID string, format quality.ID) (FileURL, error) {
	formatStr := fmt.Sprintf("%d", int(format))
	params := url.Values{}
	params.Set("format_id", formatStr)
	params.Set("intent", "stream")
	params.Set("track_id", trackID)

	signed := map[string]string{
		"format_id": formatStr,
		"intent":    "stream",
		"track_id":  trackID,
	}

	var out struct {
		URL          string  `json:"url"`
		FormatID     int     `json:"format_id"`
		SamplingRate float64 `json:"sampling_rate"`
		BitDepth     int     `json:"bit_depth"`
		MimeType     string  `json:"mime_type"`
	}
	if err := c.call(ctx, http.MethodGet, "track", "getFileUrl", params, signed, nil, &out); err != nil {
		return FileURL{}, err
	}
	if out.URL == "" {
		return FileURL{}, fmt.Errorf("rest: no stream url for track %s at format %d", trackID, format)
	}
	return FileURL{
		URL:        out.URL,
		FormatID:   quality.ID(out.FormatID),
		SampleRate: int(out.SamplingRate * 1000),
		BitDepth:   out.BitDepth,
		MimeType:   out.MimeType,
	}, nil
}

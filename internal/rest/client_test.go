// ABOUTME: Tests for the REST client
// ABOUTME: Signing recipe, headers, and response normalization against a stub server
package rest

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/token"
)

func newTestClient(host string) *Client {
	store := token.NewStore(token.AppCredentials{AppID: "123456789", Secret: "s3cret"})
	c := NewClient(slog.Default(), host, store)
	c.now = func() time.Time { return time.Unix(1700000000, 500000000) }
	return c
}

func TestSignRecipe(t *testing.T) {
	c := newTestClient("http://example.invalid")
	ts, sig := c.sign("track", "getFileUrl", map[string]string{
		"track_id":  "64868955",
		"intent":    "stream",
		"format_id": "27",
	})

	if ts != "1700000000.500000" {
		t.Fatalf("ts = %q", ts)
	}
	// Keys in ASCII order: format_id, intent, track_id.
	plain := "trackgetFileUrl" + "format_id27" + "intentstream" + "track_id64868955" + ts + "s3cret"
	want := fmt.Sprintf("%x", md5.Sum([]byte(plain)))
	if sig != want {
		t.Fatalf("sig = %q, want %q", sig, want)
	}
}

func TestTrackMetadataNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api.json/0.2/track/get" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-App-Id") != "123456789" {
			t.Errorf("missing X-App-Id header")
		}
		if r.URL.Query().Get("track_id") != "42" {
			t.Errorf("track_id = %q", r.URL.Query().Get("track_id"))
		}
		fmt.Fprint(w, `{"title":"Song","duration":241,"performer":{"name":"Artist"},"album":{"title":"Album","image":{"large":"http://img/large.jpg"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	md, err := c.TrackMetadata(context.Background(), "42")
	if err != nil {
		t.Fatalf("TrackMetadata: %v", err)
	}
	want := Metadata{Title: "Song", Artist: "Artist", Album: "Album", AlbumArtURL: "http://img/large.jpg", DurationMS: 241000}
	if md != want {
		t.Fatalf("metadata = %+v, want %+v", md, want)
	}
}

func TestTrackMetadataMissingFieldsDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	md, err := c.TrackMetadata(context.Background(), "42")
	if err != nil {
		t.Fatalf("TrackMetadata: %v", err)
	}
	if md != (Metadata{}) {
		t.Fatalf("metadata = %+v, want zero value", md)
	}
}

func TestTrackFileURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("format_id") != "27" || q.Get("intent") != "stream" {
			t.Errorf("unexpected query %v", q)
		}
		if q.Get("request_sig") == "" || q.Get("request_ts") == "" {
			t.Errorf("file url call must be signed")
		}
		fmt.Fprint(w, `{"url":"https://cdn/track.flac","format_id":7,"sampling_rate":96,"bit_depth":24,"mime_type":"audio/flac"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	f, err := c.TrackFileURL(context.Background(), "42", quality.HiRes192)
	if err != nil {
		t.Fatalf("TrackFileURL: %v", err)
	}
	if f.URL != "https://cdn/track.flac" {
		t.Errorf("url = %q", f.URL)
	}
	// Server downgraded the request; the granted format is what counts.
	if f.FormatID != quality.HiRes96 || f.SampleRate != 96000 || f.BitDepth != 24 {
		t.Errorf("file record = %+v", f)
	}
}

func TestNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.TrackMetadata(context.Background(), "42"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("login must POST, got %s", r.Method)
		}
		r.ParseForm()
		if r.PostForm.Get("extra") != "partner" {
			t.Errorf("login form extra = %q", r.PostForm.Get("extra"))
		}
		fmt.Fprint(w, `{"user_auth_token":"tok123"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Login(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.userAuthToken != "tok123" {
		t.Fatalf("userAuthToken = %q", c.userAuthToken)
	}
}

func TestSessionValidMargin(t *testing.T) {
	c := newTestClient("http://example.invalid")
	c.sessionID = "sess"
	c.sessionExpiry = c.now().Add(30 * time.Second)
	if c.SessionValid() {
		t.Error("session expiring within 60 s should not be valid")
	}
	c.sessionExpiry = c.now().Add(2 * time.Minute)
	if !c.SessionValid() {
		t.Error("session with 2 min left should be valid")
	}
}

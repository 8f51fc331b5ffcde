// ABOUTME: Tests for SOAP dispatch and the DLNA backend
// ABOUTME: Envelope shape, fault extraction, volume debounce, duration parsing, DIDL content
package dlna

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qbz-connect/renderer/internal/backend"
)

func TestEscapeXML(t *testing.T) {
	got := escapeXML(`Tom & Jerry <live> "at" the 'club'`)
	want := `Tom &amp; Jerry &lt;live&gt; &quot;at&quot; the &apos;club&apos;`
	if got != want {
		t.Fatalf("escaped = %q", got)
	}
}

func TestEnvelopeShape(t *testing.T) {
	c := newSOAPClient(slog.Default(), "http://x/control", serviceAVTransport)
	env := c.envelope("Play", []Arg{{"InstanceID", "0"}, {"Speed", "1"}})

	if strings.Count(env, "\n") != 0 {
		t.Error("envelope must be single-line")
	}
	for _, want := range []string{
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"`,
		`<u:Play xmlns:u="` + serviceAVTransport + `">`,
		`<InstanceID>0</InstanceID><Speed>1</Speed>`,
	} {
		if !strings.Contains(env, want) {
			t.Errorf("envelope missing %q", want)
		}
	}
}

func TestCallParsesResponseAndFault(t *testing.T) {
	var fault bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("SOAPAction"); got != `"`+serviceAVTransport+`#GetTransportInfo"` {
			t.Errorf("SOAPAction = %q", got)
		}
		if fault {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `<s:Envelope><s:Body><s:Fault><detail><UPnPError><errorCode>718</errorCode><errorDescription>Invalid InstanceID</errorDescription></UPnPError></detail></s:Fault></s:Body></s:Envelope>`)
			return
		}
		fmt.Fprint(w, `<s:Envelope><s:Body><u:GetTransportInfoResponse><CurrentTransportState>PLAYING</CurrentTransportState></u:GetTransportInfoResponse></s:Body></s:Envelope>`)
	}))
	defer srv.Close()

	c := newSOAPClient(slog.Default(), srv.URL, serviceAVTransport)
	values, err := c.CallN(context.Background(), 1, "GetTransportInfo", Arg{"InstanceID", "0"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if values["CurrentTransportState"] != "PLAYING" {
		t.Fatalf("values = %v", values)
	}

	fault = true
	if _, err := c.CallN(context.Background(), 1, "GetTransportInfo", Arg{"InstanceID", "0"}); err == nil {
		t.Fatal("upnp fault must be an error")
	} else if !strings.Contains(err.Error(), "718") {
		t.Fatalf("fault error should carry the code: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int64{
		"0:00:00":   0,
		"0:01:31":   91000,
		"1:02:03":   3723000,
		"0:00:01.5": 1500,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		if err != nil {
			t.Errorf("parseDuration(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseDuration(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "NOT_IMPLEMENTED", "12:34", "x:y:z"} {
		if _, err := parseDuration(bad); err == nil {
			t.Errorf("parseDuration(%q) should fail", bad)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		0:       "0:00:00",
		91000:   "0:01:31",
		3723000: "1:02:03",
		-5:      "0:00:00",
	}
	for in, want := range cases {
		if got := formatDuration(in); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildDIDL(t *testing.T) {
	md := backend.Metadata{
		TrackID:    "64868955",
		Title:      "Señor & Friends",
		Artist:     "The <Band>",
		Album:      "Album",
		DurationMS: 241000,
		MimeType:   "audio/flac",
	}
	entries := ParseSinkString("http-get:*:audio/flac:DLNA.ORG_PN=FLAC")
	didl := BuildDIDL(md, "http://10.0.0.5:7120/audio/64868955.flac", entries)

	for _, want := range []string{
		`<upnp:class>object.item.audioItem.musicTrack</upnp:class>`,
		`<dc:title>Señor &amp; Friends</dc:title>`,
		`<upnp:artist>The &lt;Band&gt;</upnp:artist>`,
		`duration="0:04:01"`,
		`protocolInfo="http-get:*:audio/flac:DLNA.ORG_PN=FLAC"`,
		`>http://10.0.0.5:7120/audio/64868955.flac</res>`,
	} {
		if !strings.Contains(didl, want) {
			t.Errorf("didl missing %q\n%s", want, didl)
		}
	}
}

func TestBuildDIDLGenericFallback(t *testing.T) {
	didl := BuildDIDL(backend.Metadata{TrackID: "1", Title: "T", MimeType: "audio/mpeg"}, "http://x/a.mp3", nil)
	if !strings.Contains(didl, `protocolInfo="http-get:*:audio/mpeg:*"`) {
		t.Fatalf("missing generic protocolInfo:\n%s", didl)
	}
}

func TestVolumeDebounce(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "SetVolume") {
			mu.Lock()
			if m := strings.Index(string(body), "<DesiredVolume>"); m >= 0 {
				rest := string(body)[m+len("<DesiredVolume>"):]
				sent = append(sent, rest[:strings.Index(rest, "<")])
			}
			mu.Unlock()
		}
		fmt.Fprint(w, `<s:Envelope><s:Body><u:SetVolumeResponse></u:SetVolumeResponse></s:Body></s:Envelope>`)
	}))
	defer srv.Close()

	b := New(slog.Default(), Config{IP: "x", Port: 1}, NewCapabilityCache())
	b.rc = newSOAPClient(slog.Default(), srv.URL, serviceRenderingControl)

	for v := 30; v <= 34; v++ {
		b.SetVolume(v)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(sent) > 2 {
		t.Fatalf("debounce allowed %d sends: %v", len(sent), sent)
	}
	if len(sent) == 0 || sent[len(sent)-1] != "34" {
		t.Fatalf("final value = %v, want trailing 34", sent)
	}
}

func TestFixedVolume(t *testing.T) {
	b := New(slog.Default(), Config{FixedVolume: true}, NewCapabilityCache())
	if err := b.SetVolume(50); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	v, err := b.Volume()
	if err != nil || v != 100 {
		t.Fatalf("fixed volume = %d, %v; want 100", v, err)
	}
}

// ABOUTME: DIDL-Lite metadata construction for SetAVTransportURI
// ABOUTME: Picks the best-matching protocolInfo entry, escaping everything
package dlna

import (
	"fmt"
	"strings"

	"github.com/qbz-connect/renderer/internal/backend"
)

// BuildDIDL renders one track as a DIDL-Lite document. The res entry's
// protocolInfo comes from the best-matching parsed sink entry, falling
// back to a generic http-get line for the track's mime type.
func BuildDIDL(md backend.Metadata, streamURL string, entries []ProtocolInfoEntry) string {
	mime := md.MimeType
	if mime == "" {
		mime = "audio/flac"
	}

	protocolInfo := fmt.Sprintf("http-get:*:%s:*", mime)
	if e, ok := bestEntry(entries, mime); ok {
		protocolInfo = fmt.Sprintf("%s:%s:%s:%s", e.Protocol, e.Network, e.ContentFormat, e.Additional)
	}

	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	fmt.Fprintf(&b, `<item id="%s" parentID="0" restricted="1">`, escapeXML(md.TrackID))
	b.WriteString(`<upnp:class>object.item.audioItem.musicTrack</upnp:class>`)
	fmt.Fprintf(&b, `<dc:title>%s</dc:title>`, escapeXML(md.Title))
	if md.Artist != "" {
		fmt.Fprintf(&b, `<upnp:artist>%s</upnp:artist>`, escapeXML(md.Artist))
		fmt.Fprintf(&b, `<dc:creator>%s</dc:creator>`, escapeXML(md.Artist))
	}
	if md.Album != "" {
		fmt.Fprintf(&b, `<upnp:album>%s</upnp:album>`, escapeXML(md.Album))
	}
	if md.ArtworkURL != "" {
		fmt.Fprintf(&b, `<upnp:albumArtURI>%s</upnp:albumArtURI>`, escapeXML(md.ArtworkURL))
	}
	fmt.Fprintf(&b, `<res duration="%s" protocolInfo="%s">%s</res>`,
		formatDuration(md.DurationMS), escapeXML(protocolInfo), escapeXML(streamURL))
	b.WriteString(`</item></DIDL-Lite>`)
	return b.String()
}

// bestEntry finds a sink entry whose content format matches the mime
// type. An entry with a mismatched content format would make some
// renderers refuse the URI, so anything short of a match falls back to
// the generic http-get line.
func bestEntry(entries []ProtocolInfoEntry, mime string) (ProtocolInfoEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.ContentFormat, mime) {
			return e, true
		}
	}
	return ProtocolInfoEntry{}, false
}

// formatDuration renders milliseconds as h:mm:ss for DIDL res
// attributes and Seek targets.
func formatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// ABOUTME: Sink-string parsing and quality derivation for DLNA renderers
// ABOUTME: Maps DLNA.ORG_PN profiles and L16 parameters to the vendor quality ladder
package dlna

import (
	"strconv"
	"strings"

	"github.com/qbz-connect/renderer/internal/quality"
)

// ProtocolInfoEntry is one parsed entry of a ConnectionManager Sink
// string: protocol:network:contentFormat:additional.
type ProtocolInfoEntry struct {
	Protocol      string
	Network       string
	ContentFormat string
	Additional    string

	Profile    string // DLNA.ORG_PN
	Operations string // DLNA.ORG_OP
	Flags      uint64 // DLNA.ORG_FLAGS (hex, first 8 digits)

	// audio/L16 declares its format inline.
	L16Rate     int
	L16Channels int
}

// Capabilities is the derived view of what a renderer accepts.
type Capabilities struct {
	Entries       []ProtocolInfoEntry
	SupportsFLAC  bool
	MaxSampleRate int
	MaxBitDepth   int
	MaxQuality    quality.ID
}

// ParseSinkString splits a comma-separated ProtocolInfo sink string
// into entries, tolerating malformed ones by skipping them.
func ParseSinkString(sink string) []ProtocolInfoEntry {
	var out []ProtocolInfoEntry
	for _, raw := range strings.Split(sink, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 4)
		if len(parts) != 4 {
			continue
		}
		e := ProtocolInfoEntry{
			Protocol:      parts[0],
			Network:       parts[1],
			ContentFormat: parts[2],
			Additional:    parts[3],
		}
		parseAdditional(&e)
		parseL16(&e)
		out = append(out, e)
	}
	return out
}

func parseAdditional(e *ProtocolInfoEntry) {
	for _, kv := range strings.Split(e.Additional, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "DLNA.ORG_PN":
			e.Profile = v
		case "DLNA.ORG_OP":
			e.Operations = v
		case "DLNA.ORG_FLAGS":
			if len(v) >= 8 {
				if f, err := strconv.ParseUint(v[:8], 16, 64); err == nil {
					e.Flags = f
				}
			}
		}
	}
}

func parseL16(e *ProtocolInfoEntry) {
	if !strings.HasPrefix(e.ContentFormat, "audio/L16") {
		return
	}
	_, params, ok := strings.Cut(e.ContentFormat, ";")
	if !ok {
		return
	}
	for _, kv := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		switch k {
		case "rate":
			e.L16Rate, _ = strconv.Atoi(v)
		case "channels":
			e.L16Channels, _ = strconv.Atoi(v)
		}
	}
}

// profileFormat maps a DLNA.ORG_PN profile to the quality it implies.
type profileFormat struct {
	q          quality.ID
	bitDepth   int
	sampleRate int
}

var profileTable = map[string]profileFormat{
	"FLAC":     {quality.FLAC, 16, 44100},
	"FLAC_24":  {quality.HiRes96, 24, 96000},
	"FLAC_96":  {quality.HiRes96, 24, 96000},
	"FLAC_192": {quality.HiRes192, 24, 192000},
	"MP3":      {quality.MP3, 16, 44100},
}

// deviceOverrides caps capabilities for devices that advertise more
// than they reliably play. Keyed by a substring of the manufacturer or
// model name.
var deviceOverrides = map[string]struct {
	maxSampleRate int
	maxBitDepth   int
}{
	"Sonos": {48000, 16},
}

// DeriveCapabilities computes the conservative quality ceiling for a
// device from its parsed sink entries and identification strings.
func DeriveCapabilities(entries []ProtocolInfoEntry, manufacturer, model string) Capabilities {
	caps := Capabilities{Entries: entries}

	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.ContentFormat), "flac") {
			caps.SupportsFLAC = true
		}
		if pf, ok := profileTable[e.Profile]; ok {
			if pf.sampleRate > caps.MaxSampleRate {
				caps.MaxSampleRate = pf.sampleRate
			}
			if pf.bitDepth > caps.MaxBitDepth {
				caps.MaxBitDepth = pf.bitDepth
			}
		}
		if e.L16Rate > caps.MaxSampleRate {
			caps.MaxSampleRate = e.L16Rate
		}
	}
	if caps.SupportsFLAC && caps.MaxSampleRate == 0 {
		// FLAC advertised without a profile pins at least CD quality.
		caps.MaxSampleRate = 44100
		caps.MaxBitDepth = 16
	}

	for needle, limit := range deviceOverrides {
		if strings.Contains(manufacturer, needle) || strings.Contains(model, needle) {
			if caps.MaxSampleRate > limit.maxSampleRate {
				caps.MaxSampleRate = limit.maxSampleRate
			}
			if caps.MaxBitDepth > limit.maxBitDepth {
				caps.MaxBitDepth = limit.maxBitDepth
			}
		}
	}

	caps.MaxQuality = deriveMaxQuality(caps)
	return caps
}

// deriveMaxQuality picks the most conservative of the four quality ids
// consistent with the capability flags.
func deriveMaxQuality(caps Capabilities) quality.ID {
	switch {
	case !caps.SupportsFLAC:
		return quality.MP3
	case caps.MaxBitDepth >= 24 && caps.MaxSampleRate >= 192000:
		return quality.HiRes192
	case caps.MaxBitDepth >= 24 && caps.MaxSampleRate >= 96000:
		return quality.HiRes96
	default:
		return quality.FLAC
	}
}

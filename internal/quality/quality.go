// ABOUTME: Vendor audio quality identifiers and their fixed mappings
// ABOUTME: Maps quality ids to protocol values, display labels and format defaults
package quality

// ID is the vendor's integer format code. The four usable values are
// fixed; 0 means "auto" until capability detection resolves it.
type ID int

const (
	Auto     ID = 0
	MP3      ID = 5  // MP3 320 kbps
	FLAC     ID = 6  // FLAC 16-bit/44.1 kHz
	HiRes96  ID = 7  // FLAC 24-bit/96 kHz
	HiRes192 ID = 27 // FLAC 24-bit/192 kHz
)

// All lists the usable quality ids from highest to lowest. Streaming
// URL resolution walks this order starting at the effective maximum.
var All = []ID{HiRes192, HiRes96, FLAC, MP3}

// Valid reports whether q is one of the four usable ids.
func (q ID) Valid() bool {
	switch q {
	case MP3, FLAC, HiRes96, HiRes192:
		return true
	}
	return false
}

// ToProtocol maps a quality id to the wire value used in capability
// announcements. Unknown ids map to 0.
func (q ID) ToProtocol() int {
	switch q {
	case MP3:
		return 1
	case FLAC:
		return 2
	case HiRes96:
		return 3
	case HiRes192:
		return 4
	}
	return 0
}

// FromProtocol is the inverse of ToProtocol. Unknown values map to Auto.
func FromProtocol(v int) ID {
	switch v {
	case 1:
		return MP3
	case 2:
		return FLAC
	case 3:
		return HiRes96
	case 4:
		return HiRes192
	}
	return Auto
}

// DisplayName returns the label the discovery endpoint reports for q.
func (q ID) DisplayName() string {
	switch q {
	case FLAC:
		return "LOSSLESS"
	case HiRes96:
		return "HIRES_L1"
	case HiRes192:
		return "HIRES_L3"
	default:
		return "MP3"
	}
}

// Format holds the nominal sample format announced for a quality id.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// FormatDefaults returns the nominal format announced when reporting q.
func (q ID) FormatDefaults() Format {
	switch q {
	case HiRes96:
		return Format{SampleRate: 96000, BitDepth: 24, Channels: 2}
	case HiRes192:
		return Format{SampleRate: 192000, BitDepth: 24, Channels: 2}
	default:
		return Format{SampleRate: 44100, BitDepth: 16, Channels: 2}
	}
}

// ABOUTME: Tests for quality id mappings
// ABOUTME: Verifies the fixed bidirectional protocol table and format defaults
package quality

import "testing"

func TestProtocolMappingRoundTrip(t *testing.T) {
	for _, q := range All {
		if got := FromProtocol(q.ToProtocol()); got != q {
			t.Errorf("round trip for %d: got %d", q, got)
		}
	}
}

func TestProtocolTable(t *testing.T) {
	cases := map[ID]int{MP3: 1, FLAC: 2, HiRes96: 3, HiRes192: 4}
	for q, want := range cases {
		if got := q.ToProtocol(); got != want {
			t.Errorf("ToProtocol(%d) = %d, want %d", q, got, want)
		}
	}
}

func TestUnknownMapsToZero(t *testing.T) {
	if got := ID(99).ToProtocol(); got != 0 {
		t.Errorf("unknown id mapped to %d", got)
	}
	if got := FromProtocol(99); got != Auto {
		t.Errorf("unknown protocol value mapped to %d", got)
	}
}

func TestFormatDefaults(t *testing.T) {
	cases := map[ID]Format{
		MP3:      {44100, 16, 2},
		FLAC:     {44100, 16, 2},
		HiRes96:  {96000, 24, 2},
		HiRes192: {192000, 24, 2},
	}
	for q, want := range cases {
		if got := q.FormatDefaults(); got != want {
			t.Errorf("FormatDefaults(%d) = %+v, want %+v", q, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[ID]string{MP3: "MP3", FLAC: "LOSSLESS", HiRes96: "HIRES_L1", HiRes192: "HIRES_L3"}
	for q, want := range cases {
		if got := q.DisplayName(); got != want {
			t.Errorf("DisplayName(%d) = %q, want %q", q, got, want)
		}
	}
}

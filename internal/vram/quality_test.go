package vram

import (
	"errors"
	"testing"
)

func TestBitratePercentTable(t *testing.T) {
	drivers := []Driver{DriverNV, DriverAMF, DriverMFX, DriverFFmpeg}
	formats := []DataFormat{FormatH264, FormatH265}

	for _, d := range drivers {
		for _, f := range formats {
			boosted := d == DriverMFX && f == FormatH264
			cases := []struct {
				q       Quality
				boosted int
				normal  int
			}{
				{Best(), 200, 150},
				{Balanced(), 150, 100},
				{Low(), 75, 50},
			}
			for _, tc := range cases {
				want := tc.normal
				if boosted {
					want = tc.boosted
				}
				if got := BitratePercent(tc.q, d, f); got != want {
					t.Errorf("BitratePercent(%s, %s, %s) = %d, want %d", tc.q, d, f, got, want)
				}
			}
		}
	}
}

func TestBitratePercentCustomVerbatim(t *testing.T) {
	for _, p := range []int{0, -5, 1, 80, 400} {
		for _, d := range []Driver{DriverMFX, DriverNV} {
			if got := BitratePercent(Custom(p), d, FormatH264); got != p {
				t.Fatalf("Custom(%d) on %s = %d, want %d", p, d, got, p)
			}
		}
	}
}

func TestBitratePercentZeroQualityIsBalanced(t *testing.T) {
	for _, q := range []Quality{{}, {Tier: "ultra"}} {
		if got, want := BitratePercent(q, DriverNV, FormatH264), BitratePercent(Balanced(), DriverNV, FormatH264); got != want {
			t.Errorf("BitratePercent(%q) = %d, want balanced %d", q.Tier, got, want)
		}
		if got := BitratePercent(q, DriverMFX, FormatH264); got != 150 {
			t.Errorf("BitratePercent(%q) on mfx h264 = %d, want 150", q.Tier, got)
		}
	}
}

func TestResolveBitrate(t *testing.T) {
	if got := ResolveBitrate(nil, 1920, 1080, 100); got != 2073 {
		t.Fatalf("1080p at 100%% = %d, want 2073", got)
	}
	if got := ResolveBitrate(nil, 1920, 1080, 150); got != 3109 {
		t.Fatalf("1080p at 150%% = %d, want 3109", got)
	}
}

func TestResolveBitrateZeroAreaUsesBaseline(t *testing.T) {
	if got, want := ResolveBitrate(nil, 0, 0, 100), BaseBitrate(0, 0); got != want {
		t.Fatalf("ResolveBitrate(0,0,100) = %d, want baseline %d", got, want)
	}

	sentinel := func(w, h int) int {
		if w*h == 0 {
			return -1
		}
		return w * h / 1000
	}
	if got := ResolveBitrate(sentinel, 0, 0, 0); got != -1 {
		t.Fatalf("non-positive baseline should pass through, got %d", got)
	}
	if got := ResolveBitrate(sentinel, 1000, 1000, 0); got != 0 {
		t.Fatalf("positive baseline scaled by 0%% = %d, want 0", got)
	}
}

func TestParseQuality(t *testing.T) {
	cases := map[string]Quality{
		"best":       Best(),
		" Balanced ": Balanced(),
		"":           Balanced(),
		"low":        Low(),
		"custom:80":  Custom(80),
		"custom:-5":  Custom(-5),
	}
	for in, want := range cases {
		got, err := ParseQuality(in)
		if err != nil {
			t.Fatalf("ParseQuality(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseQuality(%q) = %v, want %v", in, got, want)
		}
	}

	for _, bad := range []string{"ultra", "custom:", "custom:abc"} {
		if _, err := ParseQuality(bad); !errors.Is(err, ErrInvalidQuality) {
			t.Fatalf("ParseQuality(%q) err = %v, want ErrInvalidQuality", bad, err)
		}
	}
}

func TestParseDataFormat(t *testing.T) {
	if f, err := ParseDataFormat("HEVC"); err != nil || f != FormatH265 {
		t.Fatalf("ParseDataFormat(HEVC) = %v, %v", f, err)
	}
	if _, err := ParseDataFormat("vp9"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

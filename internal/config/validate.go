package config

import (
	"fmt"
	"strings"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop startup from values
// that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// clamp pins *v into [lo, hi] and records a warning when it moves.
func (r *ValidationResult) clamp(key string, v *int, lo, hi int) {
	if *v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
		*v = lo
	} else if *v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
		*v = hi
	}
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings. Values that would silently change behaviour, such as
// an unparseable quality or a display adapter without a LUID, are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if _, err := vram.ParseQuality(c.Quality); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("quality %q: %w", c.Quality, err))
	}

	seen := make(map[int64]bool, len(c.Displays))
	for i, a := range c.Displays {
		switch {
		case a.LUID == 0:
			r.Fatals = append(r.Fatals, fmt.Errorf("displays[%d] %q has no luid", i, a.Name))
		case seen[a.LUID]:
			r.Fatals = append(r.Fatals, fmt.Errorf("displays[%d] %q duplicates luid %d", i, a.Name, a.LUID))
		}
		seen[a.LUID] = true
		if a.Displays < 0 {
			r.Warnings = append(r.Warnings, fmt.Errorf("displays[%d] count %d is negative, clamping", i, a.Displays))
			c.Displays[i].Displays = 0
		}
	}

	r.clamp("stall_min_bad_len", &c.StallMinBadLen, 1, 1<<20)
	// A run needs a repeated size, so one would behave like two.
	r.clamp("stall_max_bad_count", &c.StallMaxBadCount, 2, 10000)
	r.clamp("keyframe_interval", &c.KeyframeInterval, 0, vram.MaxGOP)
	r.clamp("probe_workers", &c.ProbeWorkers, 1, 16)
	r.clamp("probe_timeout_seconds", &c.ProbeTimeoutSeconds, 1, 300)

	if c.FFmpegPath == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("ffmpeg_path is empty, using \"ffmpeg\""))
		c.FFmpegPath = "ffmpeg"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

package vram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidQuality = errors.New("invalid quality")

// QualityTier is the abstract quality level a caller asks for.
type QualityTier string

const (
	QualityBest     QualityTier = "best"
	QualityBalanced QualityTier = "balanced"
	QualityLow      QualityTier = "low"
	QualityCustom   QualityTier = "custom"
)

// Quality is a tier, or a custom bitrate percentage when Tier is QualityCustom.
type Quality struct {
	Tier    QualityTier
	Percent int
}

func Best() Quality     { return Quality{Tier: QualityBest} }
func Balanced() Quality { return Quality{Tier: QualityBalanced} }
func Low() Quality      { return Quality{Tier: QualityLow} }

// Custom returns a quality with an explicit percentage. Non-positive values
// are kept as given.
func Custom(percent int) Quality {
	return Quality{Tier: QualityCustom, Percent: percent}
}

func (q Quality) String() string {
	if q.Tier == QualityCustom {
		return fmt.Sprintf("custom:%d", q.Percent)
	}
	return string(q.Tier)
}

// ParseQuality parses "best", "balanced", "low" or "custom:<percent>".
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch QualityTier(s) {
	case QualityBest:
		return Best(), nil
	case QualityBalanced, "":
		return Balanced(), nil
	case QualityLow:
		return Low(), nil
	}
	if rest, ok := strings.CutPrefix(s, string(QualityCustom)+":"); ok {
		p, err := strconv.Atoi(rest)
		if err != nil {
			return Quality{}, fmt.Errorf("%w: %q: %v", ErrInvalidQuality, s, err)
		}
		return Custom(p), nil
	}
	return Quality{}, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// BitratePercent maps a quality to a percentage of the resolution's base
// bitrate. The Intel SDK needs higher nominal numbers on H264 to look the same
// as the other paths.
func BitratePercent(q Quality, driver Driver, format DataFormat) int {
	boosted := driver == DriverMFX && format == FormatH264
	switch q.Tier {
	case QualityBest:
		if boosted {
			return 200
		}
		return 150
	case QualityLow:
		if boosted {
			return 75
		}
		return 50
	case QualityCustom:
		return q.Percent
	case QualityBalanced:
		fallthrough
	default:
		// The zero Quality and unknown tiers read as balanced.
		if boosted {
			return 150
		}
		return 100
	}
}

// BaseBitrateFunc returns the baseline bitrate in kbps for a resolution.
type BaseBitrateFunc func(width, height int) int

// BaseBitrate is one kbps per thousand pixels.
func BaseBitrate(width, height int) int {
	return width * height / 1000
}

// ResolveBitrate scales the baseline by percent/100. A non-positive baseline
// is returned untouched so degenerate sizes keep the baseline's own value.
func ResolveBitrate(base BaseBitrateFunc, width, height, percent int) int {
	if base == nil {
		base = BaseBitrate
	}
	b := base(width, height)
	if b <= 0 {
		return b
	}
	return b * percent / 100
}

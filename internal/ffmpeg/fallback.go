package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

// FallbackVersion is the schema version of FallbackSnapshot.
const FallbackVersion = 1

// FallbackStore persists the serialized system-memory trial result.
// hwconfig.FileStore satisfies it.
type FallbackStore interface {
	LoadRAM() (string, error)
	SaveRAM(blob string) error
}

// FallbackSnapshot records which hardware encoders accept frames from system
// memory. It is independent of the VRAM probe: an encoder can pass here and
// still fail to take GPU input.
type FallbackSnapshot struct {
	Version  int               `json:"version"`
	ProbedAt time.Time         `json:"probedAt"`
	Encoders []string          `json:"encoders"`
	Formats  []vram.DataFormat `json:"formats"`
}

// Has reports whether any system-memory encoder passed for format.
func (f FallbackSnapshot) Has(format vram.DataFormat) bool {
	return slices.Contains(f.Formats, format)
}

// Marshal serializes the snapshot.
func (f FallbackSnapshot) Marshal() ([]byte, error) {
	if f.Version == 0 {
		f.Version = FallbackVersion
	}
	return json.Marshal(f)
}

// UnmarshalFallback parses a persisted fallback snapshot. Errors wrap
// vram.ErrDeserialize.
func UnmarshalFallback(blob string) (FallbackSnapshot, error) {
	var f FallbackSnapshot
	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return FallbackSnapshot{}, fmt.Errorf("%w: fallback: %v", vram.ErrDeserialize, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return FallbackSnapshot{}, fmt.Errorf("%w: fallback: trailing data", vram.ErrDeserialize)
	}
	if f.Version != FallbackVersion {
		return FallbackSnapshot{}, fmt.Errorf("%w: fallback %d", vram.ErrSnapshotVersion, f.Version)
	}
	for _, format := range f.Formats {
		if _, err := vram.ParseDataFormat(string(format)); err != nil {
			return FallbackSnapshot{}, fmt.Errorf("%w: fallback: %v", vram.ErrDeserialize, err)
		}
	}
	return f, nil
}

// ProbeFallback trial-encodes one system-memory frame with every vendor
// encoder ffmpeg lists. The result is cached and, when a Store is
// configured, persisted.
func (s *Sidecar) ProbeFallback(ctx context.Context) (FallbackSnapshot, error) {
	l, err := s.Inspect(ctx)
	if err != nil {
		return FallbackSnapshot{}, err
	}
	candidates := l.encoderCandidates()
	passed, err := s.runTrials(ctx, candidates, vram.ProbeContext, "")
	if err != nil {
		return FallbackSnapshot{}, err
	}

	snap := FallbackSnapshot{Version: FallbackVersion, ProbedAt: time.Now().UTC()}
	for _, c := range candidates {
		if !passed[c.name] {
			continue
		}
		snap.Encoders = append(snap.Encoders, c.name)
		if !snap.Has(c.format) {
			snap.Formats = append(snap.Formats, c.format)
		}
	}

	s.mu.Lock()
	s.fallback = &snap
	s.mu.Unlock()

	if s.store != nil {
		blob, err := snap.Marshal()
		if err != nil {
			return snap, err
		}
		if err := s.store.SaveRAM(string(blob)); err != nil {
			return snap, fmt.Errorf("save fallback snapshot: %w", err)
		}
	}
	log.Info("fallback probe complete", "candidates", len(candidates), "formats", snap.Formats)
	return snap, nil
}

// loadFallback reads the persisted snapshot. A missing or unreadable one is
// reported as absent.
func (s *Sidecar) loadFallback() (FallbackSnapshot, bool) {
	if s.store == nil {
		return FallbackSnapshot{}, false
	}
	blob, err := s.store.LoadRAM()
	if err != nil {
		log.Warn("failed to read fallback snapshot", logging.KeyError, err)
		return FallbackSnapshot{}, false
	}
	if blob == "" {
		return FallbackSnapshot{}, false
	}
	snap, err := UnmarshalFallback(blob)
	if err != nil {
		log.Warn("discarding unreadable fallback snapshot", logging.KeyError, err)
		return FallbackSnapshot{}, false
	}
	return snap, true
}

// HasFallback reports whether a system-memory hardware encoder exists for
// format. It consults the cached result, then the store, and only then runs
// ProbeFallback.
func (s *Sidecar) HasFallback(format vram.DataFormat) bool {
	s.mu.Lock()
	cached := s.fallback
	s.mu.Unlock()
	if cached != nil {
		return cached.Has(format)
	}

	if snap, ok := s.loadFallback(); ok {
		s.mu.Lock()
		s.fallback = &snap
		s.mu.Unlock()
		return snap.Has(format)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.timeout)
	defer cancel()
	snap, err := s.ProbeFallback(ctx)
	if err != nil && snap.Version == 0 {
		log.Warn("fallback probe failed", logging.KeyError, err)
		return false
	}
	if err != nil {
		log.Warn("fallback snapshot not persisted", logging.KeyError, err)
	}
	return snap.Has(format)
}

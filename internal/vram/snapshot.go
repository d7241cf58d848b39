package vram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// SnapshotVersion is the only schema version this package reads and writes.
const SnapshotVersion = 1

// HostInfo records which machine and OS build produced a snapshot.
type HostInfo struct {
	Hostname        string `json:"hostname,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	KernelVersion   string `json:"kernelVersion,omitempty"`
}

// Snapshot is the persisted result of a capability probe.
type Snapshot struct {
	Version  int              `json:"version"`
	ID       string           `json:"id"`
	ProbedAt time.Time        `json:"probedAt"`
	Host     HostInfo         `json:"host"`
	Encoders []FeatureContext `json:"encoders"`
	Decoders []DecodeContext  `json:"decoders"`
}

// Marshal serializes the snapshot into its persisted form.
func (s Snapshot) Marshal() ([]byte, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	return json.Marshal(s)
}

// UnmarshalSnapshot parses and validates a persisted snapshot. Unknown fields,
// trailing data, unknown versions and entries naming an unknown driver or
// format are all rejected with an error wrapping ErrDeserialize.
func UnmarshalSnapshot(blob string) (Snapshot, error) {
	var s Snapshot
	if strings.TrimSpace(blob) == "" {
		return s, fmt.Errorf("%w: empty", ErrDeserialize)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Snapshot{}, fmt.Errorf("%w: trailing data after snapshot", ErrDeserialize)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}

	for i, e := range s.Encoders {
		if !e.Driver.valid() || !e.Format.valid() {
			return Snapshot{}, fmt.Errorf("%w: encoder %d: driver %q format %q", ErrDeserialize, i, e.Driver, e.Format)
		}
	}
	for i, d := range s.Decoders {
		if !d.Driver.valid() || !d.Format.valid() {
			return Snapshot{}, fmt.Errorf("%w: decoder %d: driver %q format %q", ErrDeserialize, i, d.Driver, d.Format)
		}
	}
	return s, nil
}

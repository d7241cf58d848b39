package vram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/observe"
)

var log = logging.L("vram")

// ProbeContext is the fixed configuration capability probes run with.
var ProbeContext = DynamicContext{
	Width:     1280,
	Height:    720,
	KBitrate:  5000,
	Framerate: 60,
	GOP:       MaxGOP,
}

// RegistryOptions wires a Registry to its collaborators. Only Store is needed
// for lookups; Prober is needed for Probe; Displays and Fallback feed the
// adapter coverage check.
type RegistryOptions struct {
	Store    SnapshotSource
	Displays DisplayLister
	Fallback FallbackChecker
	Prober   Prober

	// EnableVRAM is the global hardware codec switch. Nil means enabled.
	EnableVRAM func() bool

	// Host stamps probed snapshots. Optional.
	Host func(ctx context.Context) (HostInfo, error)

	Metrics *observe.Metrics
	Now     func() time.Time
}

// Registry answers which VRAM encode/decode paths exist and which one to use.
// It never encodes or decodes anything itself. Safe for concurrent use.
type Registry struct {
	opts RegistryOptions

	mu       sync.Mutex
	disabled map[int]bool
}

// NewRegistry creates a registry with an empty per-display disable map.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		disabled: make(map[int]bool),
	}
}

// Probe enumerates what the engine can open and returns the serialized
// snapshot. Persisting it is the caller's job.
func (r *Registry) Probe(ctx context.Context) ([]byte, error) {
	if r.opts.Prober == nil {
		return nil, errors.New("vram: no prober configured")
	}

	encoders, err := r.opts.Prober.ProbeEncoders(ctx, ProbeContext)
	if err != nil {
		return nil, fmt.Errorf("probe encoders: %w", err)
	}
	decoders, err := r.opts.Prober.ProbeDecoders(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe decoders: %w", err)
	}

	snap := Snapshot{
		Version:  SnapshotVersion,
		ID:       uuid.NewString(),
		ProbedAt: r.opts.Now().UTC(),
		Encoders: encoders,
		Decoders: decoders,
	}
	if r.opts.Host != nil {
		host, err := r.opts.Host(ctx)
		if err != nil {
			log.Warn("host info unavailable for snapshot", logging.KeyError, err.Error())
		} else {
			snap.Host = host
		}
	}

	log.Info("capability probe finished",
		logging.KeySnapshot, snap.ID,
		"encoders", len(encoders),
		"decoders", len(decoders),
	)
	return snap.Marshal()
}

// Snapshot loads and validates the persisted snapshot.
func (r *Registry) Snapshot() (Snapshot, error) {
	if r.opts.Store == nil {
		return Snapshot{}, fmt.Errorf("%w: no store", ErrDeserialize)
	}
	blob, err := r.opts.Store.LoadVRAM()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return UnmarshalSnapshot(blob)
}

// ClearSnapshot drops the persisted VRAM snapshot so the next query forces a
// re-probe.
func (r *Registry) ClearSnapshot() error {
	if r.opts.Store == nil {
		return nil
	}
	return r.opts.Store.ClearVRAM()
}

// SetDisplayDisabled marks a display as not to be hardware encoded. While any
// display is disabled, AvailableEncoders returns nothing.
func (r *Registry) SetDisplayDisabled(display int, disabled bool) {
	log.Info("set display vram encode disabled", logging.KeyDisplay, display, "disabled", disabled)
	r.mu.Lock()
	r.disabled[display] = disabled
	r.mu.Unlock()
}

// DisabledDisplays returns the indexes currently flagged, sorted.
func (r *Registry) DisabledDisplays() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for idx, off := range r.disabled {
		if off {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) anyDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, off := range r.disabled {
		if off {
			return true
		}
	}
	return false
}

// AvailableEncoders lists the encoder contexts usable for format. It fails
// soft: every problem yields an empty list.
func (r *Registry) AvailableEncoders(format DataFormat) []FeatureContext {
	if r.anyDisabled() {
		log.Info("vram encoders disabled by display flag", "displays", r.DisabledDisplays())
		return nil
	}
	if !format.valid() {
		return nil
	}
	snap, err := r.Snapshot()
	if err != nil {
		log.Debug("no usable capability snapshot", logging.KeyError, err.Error())
		return nil
	}

	var matched []FeatureContext
	for _, e := range snap.Encoders {
		if e.Format == format {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	if r.opts.Fallback != nil && r.opts.Fallback.HasFallback(format) {
		return matched
	}
	if !r.coversAllDisplays(format, matched) {
		r.opts.Metrics.RecordCoverageRejection(context.Background(), string(format))
		return nil
	}
	return matched
}

// coversAllDisplays reports whether every connected display's adapter has at
// least one matching entry. A display may be routed through whichever adapter
// owns it, so partial coverage is unsafe without a fallback encoder.
func (r *Registry) coversAllDisplays(format DataFormat, entries []FeatureContext) bool {
	if r.opts.Displays == nil {
		log.Error("no display lister configured")
		return false
	}
	displays, err := r.opts.Displays.ListDisplays()
	if err != nil {
		log.Error("failed to get displays", logging.KeyError, err.Error())
		return false
	}
	if len(displays) == 0 {
		log.Error("no display found")
		return false
	}

	luids := make([]int64, 0, len(displays))
	for _, d := range displays {
		luids = append(luids, d.AdapterLUID)
	}
	for _, luid := range luids {
		covered := slices.ContainsFunc(entries, func(e FeatureContext) bool {
			return e.LUID == luid
		})
		if !covered {
			log.Info("not all adapters support format", logging.KeyFormat, format, "luids", luids)
			return false
		}
	}
	return true
}

// PreferredEncoder picks the encoder context for device. The ffmpeg-backed
// driver wins when present; otherwise the first match in probe order.
func (r *Registry) PreferredEncoder(device AdapterDevice, format DataFormat) (FeatureContext, bool) {
	var matches []FeatureContext
	for _, e := range r.AvailableEncoders(format) {
		if e.LUID == device.LUID {
			matches = append(matches, e)
		}
	}
	return preferSoftware(matches, func(e FeatureContext) Driver { return e.Driver })
}

// AvailableDecoders lists decode contexts for format on the adapter luid. A
// zero luid means no adapter was named and never matches.
func (r *Registry) AvailableDecoders(format DataFormat, luid int64) []DecodeContext {
	if !format.valid() || luid == 0 {
		return nil
	}
	snap, err := r.Snapshot()
	if err != nil {
		log.Debug("no usable capability snapshot", logging.KeyError, err.Error())
		return nil
	}
	var out []DecodeContext
	for _, d := range snap.Decoders {
		if d.Format == format && d.LUID == luid {
			out = append(out, d)
		}
	}
	return out
}

// PreferredDecoder applies the same selection policy as PreferredEncoder.
func (r *Registry) PreferredDecoder(format DataFormat, luid int64) (DecodeContext, bool) {
	return preferSoftware(r.AvailableDecoders(format, luid), func(d DecodeContext) Driver { return d.Driver })
}

// PossiblyAvailable is a cheap check over the snapshot's decoders, without
// any adapter coverage filtering.
func (r *Registry) PossiblyAvailable() (h264, h265 bool) {
	if r.opts.EnableVRAM != nil && !r.opts.EnableVRAM() {
		return false, false
	}
	snap, err := r.Snapshot()
	if err != nil {
		return false, false
	}
	for _, d := range snap.Decoders {
		switch d.Format {
		case FormatH264:
			h264 = true
		case FormatH265:
			h265 = true
		}
	}
	return h264, h265
}

func preferSoftware[T any](candidates []T, driver func(T) Driver) (T, bool) {
	var zero T
	if len(candidates) == 0 {
		return zero, false
	}
	if i := slices.IndexFunc(candidates, func(c T) bool { return driver(c).SoftwareBacked() }); i >= 0 {
		return candidates[i], true
	}
	return candidates[0], true
}

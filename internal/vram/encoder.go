package vram

import (
	"context"
	"fmt"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/observe"
)

// StallPolicy tunes the stuck-output heuristic. Some AMD encoders degrade on
// long sessions into emitting a constant tiny payload (around 40 bytes) while
// still reporting success.
type StallPolicy struct {
	// MinBadLen is the packet size, in bytes, below which a repeated size is
	// suspicious.
	MinBadLen int
	// MaxBadCount is the length of a run of identical small packets that
	// triggers ErrSwitchCodecPath. The first packet of the run counts.
	MaxBadCount int
}

// DefaultStallPolicy returns the thresholds the heuristic was tuned with.
func DefaultStallPolicy() StallPolicy {
	return StallPolicy{MinBadLen: 100, MaxBadCount: 30}
}

func (p StallPolicy) withDefaults() StallPolicy {
	d := DefaultStallPolicy()
	if p.MinBadLen <= 0 {
		p.MinBadLen = d.MinBadLen
	}
	if p.MaxBadCount <= 0 {
		p.MaxBadCount = d.MaxBadCount
	}
	return p
}

// EncoderConfig describes the encoder a caller wants opened.
type EncoderConfig struct {
	Device  AdapterDevice
	Width   int
	Height  int
	Quality Quality
	Feature FeatureContext

	// KeyframeInterval is the GOP length; zero leaves it at MaxGOP.
	KeyframeInterval int

	Stall StallPolicy
}

// Packet is one compressed output unit.
type Packet struct {
	Data []byte
	PTS  int64
	Key  bool
}

// EncoderOption customizes NewEncoder.
type EncoderOption func(*encoderOptions)

type encoderOptions struct {
	base    BaseBitrateFunc
	metrics *observe.Metrics
}

// WithBaseBitrate replaces the resolution to bitrate baseline.
func WithBaseBitrate(fn BaseBitrateFunc) EncoderOption {
	return func(o *encoderOptions) { o.base = fn }
}

// WithEncoderMetrics records session activity on m.
func WithEncoderMetrics(m *observe.Metrics) EncoderOption {
	return func(o *encoderOptions) { o.metrics = m }
}

// Encoder owns one engine encoder handle. It is driven by a single goroutine;
// once Encode returns ErrSwitchCodecPath the caller must Close it and move to
// a non-VRAM encoder.
type Encoder struct {
	native  NativeEncoder
	ctx     EncodeContext
	cfg     EncoderConfig
	base    BaseBitrateFunc
	metrics *observe.Metrics

	bitrate           int
	lastFrameLen      int
	sameBadLenCounter int
	closed            bool
}

// NewEncoder computes the initial bitrate and opens the engine encoder.
// Failures leave nothing behind.
func NewEncoder(engine Engine, cfg EncoderConfig, opts ...EncoderOption) (*Encoder, error) {
	o := encoderOptions{base: BaseBitrate}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = BaseBitrate
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	if !cfg.Feature.Format.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Feature.Format)
	}
	cfg.Stall = cfg.Stall.withDefaults()

	percent := BitratePercent(cfg.Quality, cfg.Feature.Driver, cfg.Feature.Format)
	bitrate := ResolveBitrate(o.base, cfg.Width, cfg.Height, percent)

	gop := cfg.KeyframeInterval
	if gop <= 0 {
		gop = MaxGOP
	}
	ctx := EncodeContext{
		Feature: cfg.Feature,
		Dynamic: DynamicContext{
			Device:    cfg.Device.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			KBitrate:  bitrate,
			Framerate: 30,
			GOP:       gop,
		},
	}

	native, err := engine.OpenEncoder(ctx)
	if err != nil || native == nil {
		o.metrics.RecordOpenFailure(context.Background(), "encoder", string(cfg.Feature.Driver))
		return nil, &ConstructionError{Kind: "encoder", Context: cfg.Feature.String(), Err: err}
	}

	o.metrics.RecordBitrate(context.Background(), string(cfg.Feature.Driver), string(cfg.Feature.Format), bitrate)
	return &Encoder{
		native:  native,
		ctx:     ctx,
		cfg:     cfg,
		base:    o.base,
		metrics: o.metrics,
		bitrate: bitrate,
	}, nil
}

// Encode pushes one frame texture through the encoder. An engine failure is
// reported as no packets, not as an error: the next frame simply tries again.
// ErrSwitchCodecPath is returned once the output has been stuck at the same
// small size for StallPolicy.MaxBadCount consecutive calls.
func (e *Encoder) Encode(frame uintptr) ([]Packet, error) {
	if e.closed {
		return nil, ErrSessionClosed
	}

	frames, err := e.native.Encode(frame)
	if err != nil {
		log.Debug("encode produced no output", logging.KeyDriver, e.ctx.Feature.Driver, logging.KeyError, err.Error())
		return nil, nil
	}
	if len(frames) == 0 {
		return nil, nil
	}

	packets := make([]Packet, 0, len(frames))
	total := 0
	for _, f := range frames {
		packets = append(packets, Packet{Data: f.Data, PTS: f.PTS, Key: f.Key})
		total += len(f.Data)
	}

	if err := e.checkStall(len(packets[0].Data)); err != nil {
		return nil, err
	}

	e.metrics.RecordEncoded(context.Background(), string(e.ctx.Feature.Driver), string(e.ctx.Feature.Format), len(packets), total)
	return packets, nil
}

func (e *Encoder) checkStall(n int) error {
	if n < e.cfg.Stall.MinBadLen && n == e.lastFrameLen {
		e.sameBadLenCounter++
		// sameBadLenCounter counts repeats, so the run is one longer.
		if e.sameBadLenCounter+1 >= e.cfg.Stall.MaxBadCount {
			log.Info("encoder output stuck, switching codec path",
				"times", e.sameBadLenCounter+1,
				"len", e.lastFrameLen,
				logging.KeyDriver, e.ctx.Feature.Driver,
				logging.KeyLUID, e.ctx.Feature.LUID,
			)
			e.metrics.RecordSwitch(context.Background(), string(e.ctx.Feature.Driver), string(e.ctx.Feature.Format))
			return ErrSwitchCodecPath
		}
	} else {
		e.sameBadLenCounter = 0
	}
	e.lastFrameLen = n
	return nil
}

// SetQuality recomputes the bitrate for q and applies it to the live encoder.
// It is best-effort: if the engine rejects the change, the recorded bitrate
// stays as it was and no error is returned.
func (e *Encoder) SetQuality(q Quality) error {
	if e.closed {
		return ErrSessionClosed
	}
	percent := BitratePercent(q, e.ctx.Feature.Driver, e.ctx.Feature.Format)
	bitrate := e.base(e.ctx.Dynamic.Width, e.ctx.Dynamic.Height) * percent / 100
	if bitrate <= 0 {
		return nil
	}
	if err := e.native.SetBitrate(bitrate); err != nil {
		log.Warn("set bitrate rejected", "kbps", bitrate, logging.KeyDriver, e.ctx.Feature.Driver, logging.KeyError, err.Error())
		return nil
	}
	e.bitrate = bitrate
	e.cfg.Quality = q
	e.metrics.RecordBitrate(context.Background(), string(e.ctx.Feature.Driver), string(e.ctx.Feature.Format), bitrate)
	return nil
}

// Bitrate is the last successfully applied bitrate in kbps.
func (e *Encoder) Bitrate() int { return e.bitrate }

// Format is the compressed format this session produces.
func (e *Encoder) Format() DataFormat { return e.ctx.Feature.Format }

// Feature is the capability entry the session was opened with.
func (e *Encoder) Feature() FeatureContext { return e.ctx.Feature }

// SupportsABR reports whether live bitrate renegotiation works. The Intel
// driver does not support it.
func (e *Encoder) SupportsABR() bool {
	return e.cfg.Device.VendorID != VendorIntel
}

// SupportsChangingQuality is always true for VRAM encoders.
func (e *Encoder) SupportsChangingQuality() bool { return true }

// LatencyFree is always true: the GPU pipeline adds no buffering of its own.
func (e *Encoder) LatencyFree() bool { return true }

// Close releases the engine handle. Calling it twice is harmless.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.native.Close()
}

package vram

import (
	"context"
	"fmt"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/observe"
)

// DecodedFrame is a borrowed view of a picture held by the decoder. It is
// only valid until the next Decode call or Close on the same Decoder; use
// Clone to keep the pixels longer.
type DecodedFrame struct {
	img *NativeImage
}

// Texture is the engine texture handle backing the frame.
func (f DecodedFrame) Texture() uintptr { return f.img.Texture }

// Width of the picture in pixels.
func (f DecodedFrame) Width() int { return f.img.Width }

// Height of the picture in pixels.
func (f DecodedFrame) Height() int { return f.img.Height }

// Bytes exposes the decoder's buffer. Do not retain it.
func (f DecodedFrame) Bytes() []byte { return f.img.Data }

// Clone copies the frame out of decoder storage. The texture handle is still
// the engine's and is not copied.
func (f DecodedFrame) Clone() NativeImage {
	out := *f.img
	if f.img.Data != nil {
		out.Data = append([]byte(nil), f.img.Data...)
	}
	return out
}

// Decoder owns one engine decoder handle.
type Decoder struct {
	native  NativeDecoder
	ctx     DecodeContext
	metrics *observe.Metrics
	images  []NativeImage
	closed  bool
}

// NewDecoder opens a decoder for format on the adapter luid using the
// registry's preferred context. If the engine refuses it, the persisted
// snapshot is cleared so the next capability query re-probes.
func NewDecoder(reg *Registry, engine Engine, format DataFormat, luid int64) (*Decoder, error) {
	ctx, ok := reg.PreferredDecoder(format, luid)
	if !ok {
		return nil, fmt.Errorf("%w: decode %s on luid %d", ErrNoMatchingCapability, format, luid)
	}
	log.Info("try create vram decoder", "context", ctx.String())

	native, err := engine.OpenDecoder(ctx)
	if err != nil || native == nil {
		reg.opts.Metrics.RecordOpenFailure(context.Background(), "decoder", string(ctx.Driver))
		if cerr := reg.ClearSnapshot(); cerr != nil {
			log.Warn("failed to clear capability snapshot", logging.KeyError, cerr.Error())
		}
		return nil, &ConstructionError{Kind: "decoder", Context: ctx.String(), Err: err}
	}
	return &Decoder{native: native, ctx: ctx, metrics: reg.opts.Metrics}, nil
}

// Decode pushes a compressed buffer through the decoder. The returned frames
// borrow decoder storage; see DecodedFrame.
func (d *Decoder) Decode(data []byte) ([]DecodedFrame, error) {
	if d.closed {
		return nil, ErrSessionClosed
	}
	imgs, err := d.native.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	d.images = imgs
	frames := make([]DecodedFrame, len(imgs))
	for i := range d.images {
		frames[i] = DecodedFrame{img: &d.images[i]}
	}
	d.metrics.RecordDecoded(context.Background(), string(d.ctx.Driver), string(d.ctx.Format), len(frames))
	return frames, nil
}

// Context is the capability entry the decoder was opened with.
func (d *Decoder) Context() DecodeContext { return d.ctx }

// Close releases the engine handle. Calling it twice is harmless.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.images = nil
	return d.native.Close()
}

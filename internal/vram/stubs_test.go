package vram

import (
	"context"
	"errors"
	"testing"
)

const (
	luidA int64 = 0x1001
	luidB int64 = 0x2002
)

type stubStore struct {
	blob    string
	err     error
	cleared int
}

func (s *stubStore) LoadVRAM() (string, error) { return s.blob, s.err }
func (s *stubStore) ClearVRAM() error          { s.cleared++; s.blob = ""; return nil }

type stubDisplays struct {
	displays []Display
	err      error
}

func (s *stubDisplays) ListDisplays() ([]Display, error) { return s.displays, s.err }

type stubFallback map[DataFormat]bool

func (s stubFallback) HasFallback(f DataFormat) bool { return s[f] }

type stubProber struct {
	encoders []FeatureContext
	decoders []DecodeContext
	gotCtx   DynamicContext
	err      error
}

func (s *stubProber) ProbeEncoders(_ context.Context, d DynamicContext) ([]FeatureContext, error) {
	s.gotCtx = d
	return s.encoders, s.err
}

func (s *stubProber) ProbeDecoders(context.Context) ([]DecodeContext, error) {
	return s.decoders, s.err
}

// stubNativeEncoder replays a scripted sequence of packet sizes.
type stubNativeEncoder struct {
	sizes      []int
	calls      int
	encodeErr  error
	bitrateErr error
	bitrates   []int
	closed     int
}

func (s *stubNativeEncoder) Encode(uintptr) ([]NativeFrame, error) {
	if s.encodeErr != nil {
		return nil, s.encodeErr
	}
	if s.calls >= len(s.sizes) {
		return nil, nil
	}
	n := s.sizes[s.calls]
	s.calls++
	if n == 0 {
		return nil, nil
	}
	return []NativeFrame{{Data: make([]byte, n), PTS: int64(s.calls), Key: s.calls == 1}}, nil
}

func (s *stubNativeEncoder) SetBitrate(kbps int) error {
	if s.bitrateErr != nil {
		return s.bitrateErr
	}
	s.bitrates = append(s.bitrates, kbps)
	return nil
}

func (s *stubNativeEncoder) Close() error { s.closed++; return nil }

type stubNativeDecoder struct {
	images []NativeImage
	err    error
	closed int
}

func (s *stubNativeDecoder) Decode([]byte) ([]NativeImage, error) { return s.images, s.err }
func (s *stubNativeDecoder) Close() error                         { s.closed++; return nil }

type stubEngine struct {
	enc       *stubNativeEncoder
	dec       *stubNativeDecoder
	openErr   error
	gotEncode EncodeContext
	gotDecode DecodeContext
}

func (s *stubEngine) OpenEncoder(ctx EncodeContext) (NativeEncoder, error) {
	s.gotEncode = ctx
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.enc, nil
}

func (s *stubEngine) OpenDecoder(ctx DecodeContext) (NativeDecoder, error) {
	s.gotDecode = ctx
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.dec, nil
}

var errEngine = errors.New("engine refused")

func snapshotBlob(t *testing.T, encoders []FeatureContext, decoders []DecodeContext) string {
	t.Helper()
	b, err := Snapshot{ID: "test", Encoders: encoders, Decoders: decoders}.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(b)
}

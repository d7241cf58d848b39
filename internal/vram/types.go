package vram

import (
	"context"
	"fmt"
	"strings"
)

// DataFormat is a compressed video format the hardware paths can produce.
type DataFormat string

const (
	FormatH264 DataFormat = "h264"
	FormatH265 DataFormat = "h265"
)

func (f DataFormat) valid() bool {
	switch f {
	case FormatH264, FormatH265:
		return true
	default:
		return false
	}
}

// ParseDataFormat accepts the canonical names plus the common "hevc" alias.
func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc":
		return FormatH264, nil
	case "h265", "hevc":
		return FormatH265, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Driver identifies which SDK services a capability entry. The set is closed:
// the codec engine only ever reports these four.
type Driver string

const (
	DriverNV     Driver = "nv"
	DriverAMF    Driver = "amf"
	DriverMFX    Driver = "mfx"
	DriverFFmpeg Driver = "ffmpeg"
)

func (d Driver) valid() bool {
	switch d {
	case DriverNV, DriverAMF, DriverMFX, DriverFFmpeg:
		return true
	default:
		return false
	}
}

// SoftwareBacked reports whether the driver goes through the portable ffmpeg
// path rather than a vendor SDK.
func (d Driver) SoftwareBacked() bool {
	return d == DriverFFmpeg
}

// PCI vendor IDs of the adapters the engine knows how to drive.
const (
	VendorNVIDIA uint32 = 0x10DE
	VendorAMD    uint32 = 0x1002
	VendorIntel  uint32 = 0x8086
)

// VendorName returns a short display name for a PCI vendor ID.
func VendorName(id uint32) string {
	switch id {
	case VendorNVIDIA:
		return "nvidia"
	case VendorAMD:
		return "amd"
	case VendorIntel:
		return "intel"
	default:
		return fmt.Sprintf("0x%04X", id)
	}
}

// MaxGOP is the engine's "no forced keyframes" interval.
const MaxGOP = 0x7FFFFFFF

// AdapterDevice identifies one GPU. Device is the opaque native handle the
// engine renders with; it is never dereferenced here.
type AdapterDevice struct {
	VendorID uint32
	LUID     int64
	Device   uintptr
}

// FeatureContext is one encodable (format, driver, adapter) triple.
type FeatureContext struct {
	Driver Driver     `json:"driver"`
	Vendor uint32     `json:"vendor"`
	LUID   int64      `json:"luid"`
	Format DataFormat `json:"format"`
}

func (f FeatureContext) String() string {
	return fmt.Sprintf("%s/%s@%d", f.Driver, f.Format, f.LUID)
}

// DecodeContext is one decodable (format, driver, adapter) triple.
type DecodeContext struct {
	Driver Driver     `json:"driver"`
	Vendor uint32     `json:"vendor"`
	LUID   int64      `json:"luid"`
	Format DataFormat `json:"format"`
}

func (d DecodeContext) String() string {
	return fmt.Sprintf("%s/%s@%d", d.Driver, d.Format, d.LUID)
}

// DynamicContext carries the per-session encoder parameters.
type DynamicContext struct {
	Device    uintptr
	Width     int
	Height    int
	KBitrate  int
	Framerate int
	GOP       int
}

// EncodeContext is everything the engine needs to open an encoder.
type EncodeContext struct {
	Feature FeatureContext
	Dynamic DynamicContext
}

// Display is one connected output as reported by the display collaborator.
type Display struct {
	Index       int
	Name        string
	AdapterLUID int64
	VendorID    uint32
}

// NativeFrame is one compressed packet as produced by the engine.
type NativeFrame struct {
	Data []byte
	PTS  int64
	Key  bool
}

// NativeImage is a decoder-owned picture. Texture and Data point into engine
// storage that is recycled on the next Decode call.
type NativeImage struct {
	Texture uintptr
	Width   int
	Height  int
	Data    []byte
}

// Engine opens encoder and decoder handles on the external codec engine.
type Engine interface {
	OpenEncoder(ctx EncodeContext) (NativeEncoder, error)
	OpenDecoder(ctx DecodeContext) (NativeDecoder, error)
}

// NativeEncoder is a live engine encoder handle.
type NativeEncoder interface {
	Encode(frame uintptr) ([]NativeFrame, error)
	SetBitrate(kbps int) error
	Close() error
}

// NativeDecoder is a live engine decoder handle.
type NativeDecoder interface {
	Decode(data []byte) ([]NativeImage, error)
	Close() error
}

// Prober enumerates the contexts the engine can open on this machine.
type Prober interface {
	ProbeEncoders(ctx context.Context, d DynamicContext) ([]FeatureContext, error)
	ProbeDecoders(ctx context.Context) ([]DecodeContext, error)
}

// DisplayLister reports the currently connected displays.
type DisplayLister interface {
	ListDisplays() ([]Display, error)
}

// FallbackChecker reports whether a non-VRAM encoder exists for a format.
type FallbackChecker interface {
	HasFallback(format DataFormat) bool
}

// SnapshotSource is the persisted home of the serialized capability snapshot.
type SnapshotSource interface {
	LoadVRAM() (string, error)
	ClearVRAM() error
}

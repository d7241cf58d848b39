package vram

import (
	"errors"
	"fmt"
)

var (
	ErrConstruction         = errors.New("vram: failed to open codec")
	ErrSwitchCodecPath      = errors.New("vram: encoder output stuck, switch codec path")
	ErrDeserialize          = errors.New("vram: cannot deserialize capability snapshot")
	ErrSnapshotVersion      = fmt.Errorf("%w: unsupported version", ErrDeserialize)
	ErrNoMatchingCapability = errors.New("vram: no matching capability")
	ErrUnsupportedFormat    = errors.New("vram: unsupported format")
	ErrInvalidDimensions    = errors.New("vram: invalid dimensions")
	ErrSessionClosed        = errors.New("vram: session closed")
	ErrDecode               = errors.New("vram: decode failed")
)

// ConstructionError reports an encoder or decoder handle that could not be
// opened. It matches ErrConstruction with errors.Is and also unwraps to the
// engine's own error.
type ConstructionError struct {
	Kind    string // "encoder" or "decoder"
	Context string
	Err     error
}

func (e *ConstructionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %s", ErrConstruction, e.Kind, e.Context)
	}
	return fmt.Sprintf("%v: %s %s: %v", ErrConstruction, e.Kind, e.Context, e.Err)
}

func (e *ConstructionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConstruction}
	}
	return []error{ErrConstruction, e.Err}
}

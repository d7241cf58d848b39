// Package display enumerates GPU adapters and the displays attached to them.
package display

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

// ErrUnsupported is returned by System on platforms without adapter
// enumeration.
var ErrUnsupported = errors.New("display: adapter enumeration not supported on this platform")

// Adapter is one GPU and the displays it drives.
type Adapter struct {
	Name     string         `json:"name"`
	VendorID uint32         `json:"vendorId"`
	LUID     int64          `json:"luid"`
	Displays []vram.Display `json:"displays"`
}

// Device returns the lookup key for this adapter. The native handle is left
// empty; opening one is the codec engine's job.
func (a Adapter) Device() vram.AdapterDevice {
	return vram.AdapterDevice{VendorID: a.VendorID, LUID: a.LUID}
}

// Enumerator lists adapters.
type Enumerator interface {
	Adapters() ([]Adapter, error)
}

// Lister adapts an Enumerator to vram.DisplayLister.
type Lister struct {
	Source Enumerator
}

// ListDisplays flattens every adapter's displays, in adapter order.
func (l Lister) ListDisplays() ([]vram.Display, error) {
	adapters, err := l.Source.Adapters()
	if err != nil {
		return nil, err
	}
	var out []vram.Display
	for _, a := range adapters {
		out = append(out, a.Displays...)
	}
	return out, nil
}

// Static serves a fixed adapter list, typically from configuration on
// platforms where System is unsupported.
type Static []Adapter

// Adapters returns the configured adapters with display indexes assigned in
// order and each display stamped with its adapter's LUID and vendor.
func (s Static) Adapters() ([]Adapter, error) {
	out := make([]Adapter, len(s))
	next := 0
	for i, a := range s {
		if a.LUID == 0 {
			return nil, fmt.Errorf("display: adapter %q has no luid", a.Name)
		}
		out[i] = a
		out[i].Displays = make([]vram.Display, len(a.Displays))
		for j, d := range a.Displays {
			d.Index = next
			d.AdapterLUID = a.LUID
			d.VendorID = a.VendorID
			out[i].Displays[j] = d
			next++
		}
	}
	return out, nil
}

// StaticFromCounts builds a Static list where each adapter drives n unnamed
// displays.
func StaticFromCounts(adapters []Adapter, counts []int) Static {
	s := make(Static, len(adapters))
	for i, a := range adapters {
		n := 0
		if i < len(counts) {
			n = counts[i]
		}
		a.Displays = make([]vram.Display, n)
		for j := range a.Displays {
			a.Displays[j].Name = fmt.Sprintf("%s #%d", a.Name, j)
		}
		s[i] = a
	}
	return s
}

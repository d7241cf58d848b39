package display

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

func TestStaticAssignsIndexesAndLUIDs(t *testing.T) {
	s := StaticFromCounts([]Adapter{
		{Name: "dGPU", VendorID: vram.VendorNVIDIA, LUID: 0x10},
		{Name: "iGPU", VendorID: vram.VendorIntel, LUID: 0x20},
	}, []int{2, 1})

	displays, err := Lister{Source: s}.ListDisplays()
	if err != nil {
		t.Fatalf("ListDisplays: %v", err)
	}
	if len(displays) != 3 {
		t.Fatalf("got %d displays, want 3", len(displays))
	}
	want := []struct {
		index int
		luid  int64
	}{{0, 0x10}, {1, 0x10}, {2, 0x20}}
	for i, w := range want {
		if displays[i].Index != w.index || displays[i].AdapterLUID != w.luid {
			t.Errorf("display %d = %+v, want index %d luid %#x", i, displays[i], w.index, w.luid)
		}
	}
	if displays[2].VendorID != vram.VendorIntel {
		t.Errorf("vendor not stamped: %+v", displays[2])
	}
}

func TestStaticRejectsMissingLUID(t *testing.T) {
	_, err := Static{{Name: "broken"}}.Adapters()
	if err == nil {
		t.Fatal("expected error for adapter without luid")
	}
}

type failingEnumerator struct{}

func (failingEnumerator) Adapters() ([]Adapter, error) { return nil, errors.New("boom") }

func TestListerPropagatesErrors(t *testing.T) {
	if _, err := (Lister{Source: failingEnumerator{}}).ListDisplays(); err == nil {
		t.Fatal("expected error")
	}
}

func TestAdapterDevice(t *testing.T) {
	d := Adapter{VendorID: vram.VendorAMD, LUID: 42}.Device()
	if d.VendorID != vram.VendorAMD || d.LUID != 42 || d.Device != 0 {
		t.Fatalf("unexpected device %+v", d)
	}
}

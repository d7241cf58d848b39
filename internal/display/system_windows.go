//go:build windows

package display

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var log = logging.L("display")

var (
	modDXGI                = windows.NewLazySystemDLL("dxgi.dll")
	procCreateDXGIFactory1 = modDXGI.NewProc("CreateDXGIFactory1")

	iidIDXGIFactory1 = windows.GUID{
		Data1: 0x770aae78, Data2: 0xf26f, Data3: 0x4dba,
		Data4: [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87},
	}
)

// COM vtable indices. IUnknown is 0-2, IDXGIObject 3-6.
const (
	vtblRelease              = 2
	vtblAdapterEnumOutputs   = 7  // IDXGIAdapter
	vtblOutputGetDesc        = 7  // IDXGIOutput
	vtblAdapter1GetDesc1     = 10 // IDXGIAdapter1
	vtblFactory1EnumAdapters = 12 // IDXGIFactory1::EnumAdapters1

	dxgiErrorNotFound       = 0x887A0002
	dxgiAdapterFlagSoftware = 0x2
)

// DXGI_ADAPTER_DESC1
type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLUID           windows.LUID
	Flags                 uint32
}

// DXGI_OUTPUT_DESC
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

type dxgiEnumerator struct{}

// System returns the DXGI adapter enumerator.
func System() (Enumerator, error) {
	if err := procCreateDXGIFactory1.Find(); err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	return dxgiEnumerator{}, nil
}

func comMethod(obj uintptr, idx int) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

func comCall(obj uintptr, idx int, args ...uintptr) uint32 {
	all := append([]uintptr{obj}, args...)
	hr, _, _ := syscall.SyscallN(comMethod(obj, idx), all...)
	return uint32(hr)
}

func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comMethod(obj, vtblRelease), obj)
	}
}

func failed(hr uint32) bool { return int32(hr) < 0 }

func luidValue(l windows.LUID) int64 {
	return int64(l.HighPart)<<32 | int64(l.LowPart)
}

// Adapters walks IDXGIFactory1::EnumAdapters1 and each adapter's outputs.
// Software adapters (WARP) are skipped. Display indexes count attached
// outputs across all adapters in enumeration order.
func (dxgiEnumerator) Adapters() ([]Adapter, error) {
	var factory uintptr
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if failed(uint32(hr)) {
		return nil, fmt.Errorf("CreateDXGIFactory1 failed: 0x%08X", uint32(hr))
	}
	defer comRelease(factory)

	var adapters []Adapter
	next := 0
	for i := 0; ; i++ {
		var adapter uintptr
		hr := comCall(factory, vtblFactory1EnumAdapters, uintptr(i), uintptr(unsafe.Pointer(&adapter)))
		if failed(hr) {
			if hr != dxgiErrorNotFound {
				log.Warn("DXGI EnumAdapters1 failed", "index", i, "hr", fmt.Sprintf("0x%08X", hr))
			}
			break
		}

		var desc dxgiAdapterDesc1
		hr = comCall(adapter, vtblAdapter1GetDesc1, uintptr(unsafe.Pointer(&desc)))
		if failed(hr) {
			log.Warn("DXGI GetDesc1 failed", "index", i, "hr", fmt.Sprintf("0x%08X", hr))
			comRelease(adapter)
			continue
		}
		if desc.Flags&dxgiAdapterFlagSoftware != 0 {
			comRelease(adapter)
			continue
		}

		a := Adapter{
			Name:     windows.UTF16ToString(desc.Description[:]),
			VendorID: desc.VendorID,
			LUID:     luidValue(desc.AdapterLUID),
		}
		a.Displays = enumOutputs(adapter, a, &next)
		comRelease(adapter)
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func enumOutputs(adapter uintptr, a Adapter, next *int) []vram.Display {
	var out []vram.Display
	for j := 0; ; j++ {
		var output uintptr
		hr := comCall(adapter, vtblAdapterEnumOutputs, uintptr(j), uintptr(unsafe.Pointer(&output)))
		if failed(hr) {
			if hr != dxgiErrorNotFound {
				log.Warn("DXGI EnumOutputs failed", "adapter", a.Name, "index", j, "hr", fmt.Sprintf("0x%08X", hr))
			}
			return out
		}

		var desc dxgiOutputDesc
		hr = comCall(output, vtblOutputGetDesc, uintptr(unsafe.Pointer(&desc)))
		comRelease(output)
		if failed(hr) || desc.AttachedToDesktop == 0 {
			continue
		}
		out = append(out, vram.Display{
			Index:       *next,
			Name:        windows.UTF16ToString(desc.DeviceName[:]),
			AdapterLUID: a.LUID,
			VendorID:    a.VendorID,
		})
		*next++
	}
}

//go:build !windows

package display

// System returns the platform adapter enumerator. Only DXGI on Windows
// reports adapter LUIDs; other platforms configure adapters statically.
func System() (Enumerator, error) {
	return nil, ErrUnsupported
}

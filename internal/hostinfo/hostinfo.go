// Package hostinfo stamps capability snapshots with the machine they were
// probed on.
package hostinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var hostInfo = host.InfoWithContext

// Collect returns the hostname, OS platform and kernel of this machine.
func Collect(ctx context.Context) (vram.HostInfo, error) {
	info, err := hostInfo(ctx)
	if err != nil {
		return vram.HostInfo{}, fmt.Errorf("host info: %w", err)
	}
	return vram.HostInfo{
		Hostname:        info.Hostname,
		Platform:        normalizePlatform(info.OS, info.Platform),
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
	}, nil
}

// normalizePlatform prefers the distribution name and reports darwin as macos.
func normalizePlatform(os, platform string) string {
	if os == "darwin" {
		return "macos"
	}
	if platform != "" {
		return platform
	}
	return os
}

package hostinfo

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
)

func stubHost(t *testing.T, info *host.InfoStat, err error) {
	t.Helper()
	orig := hostInfo
	hostInfo = func(context.Context) (*host.InfoStat, error) { return info, err }
	t.Cleanup(func() { hostInfo = orig })
}

func TestCollect(t *testing.T) {
	stubHost(t, &host.InfoStat{
		Hostname:        "ws-17",
		OS:              "windows",
		Platform:        "Microsoft Windows 11 Pro",
		PlatformVersion: "10.0.22631 Build 22631",
		KernelVersion:   "10.0.22631",
	}, nil)

	got, err := Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.Hostname != "ws-17" || got.Platform != "Microsoft Windows 11 Pro" || got.KernelVersion != "10.0.22631" {
		t.Fatalf("unexpected host info %+v", got)
	}
}

func TestCollectDarwin(t *testing.T) {
	stubHost(t, &host.InfoStat{OS: "darwin", Platform: "darwin"}, nil)
	got, err := Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.Platform != "macos" {
		t.Fatalf("Platform = %q, want macos", got.Platform)
	}
}

func TestCollectError(t *testing.T) {
	boom := errors.New("wmi unavailable")
	stubHost(t, nil, boom)
	if _, err := Collect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

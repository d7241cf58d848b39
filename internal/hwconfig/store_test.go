package hwconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", FileName))
	blob, err := s.LoadVRAM()
	if err != nil {
		t.Fatalf("LoadVRAM: %v", err)
	}
	if blob != "" {
		t.Fatalf("expected empty blob, got %q", blob)
	}
}

func TestSaveLoadClearVRAM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	s := NewFileStore(path)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ram: keep-me\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := s.SaveVRAM(`{"version":1}`); err != nil {
		t.Fatalf("SaveVRAM: %v", err)
	}
	blob, err := s.LoadVRAM()
	if err != nil || blob != `{"version":1}` {
		t.Fatalf("LoadVRAM = %q, %v", blob, err)
	}

	if err := s.ClearVRAM(); err != nil {
		t.Fatalf("ClearVRAM: %v", err)
	}
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VRAM != "" {
		t.Fatalf("VRAM not cleared: %q", cfg.VRAM)
	}
	if cfg.RAM != "keep-me" {
		t.Fatalf("RAM snapshot lost: %q", cfg.RAM)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0600 {
		t.Fatalf("file mode = %o, want 600", perm)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("vram: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).LoadVRAM(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRAMKeepsVRAM(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), FileName))
	if blob, err := s.LoadRAM(); err != nil || blob != "" {
		t.Fatalf("LoadRAM on missing file = %q, %v", blob, err)
	}

	if err := s.SaveVRAM(`{"version":1}`); err != nil {
		t.Fatalf("SaveVRAM: %v", err)
	}
	if err := s.SaveRAM(`{"formats":["h264"]}`); err != nil {
		t.Fatalf("SaveRAM: %v", err)
	}

	ram, err := s.LoadRAM()
	if err != nil || ram != `{"formats":["h264"]}` {
		t.Fatalf("LoadRAM = %q, %v", ram, err)
	}
	vram, err := s.LoadVRAM()
	if err != nil || vram != `{"version":1}` {
		t.Fatalf("VRAM snapshot lost: %q, %v", vram, err)
	}
}

// Package hwconfig persists probed codec capability snapshots to a small YAML
// file next to the main configuration.
package hwconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the store's default file name inside the config directory.
const FileName = "hwcodec.yaml"

// Config is the on-disk layout. Each field holds an opaque serialized
// snapshot owned by the package that produced it.
type Config struct {
	// RAM is the snapshot for system-memory hardware encoders.
	RAM string `yaml:"ram,omitempty"`
	// VRAM is the snapshot for GPU-memory encoders and decoders.
	VRAM string `yaml:"vram,omitempty"`
}

// FileStore reads and writes Config at a fixed path. Safe for concurrent use
// within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path is the backing file.
func (s *FileStore) Path() string { return s.path }

// Load returns the stored config. A missing file is an empty config.
func (s *FileStore) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return cfg, nil
}

func (s *FileStore) save(cfg Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode hwcodec config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hwcodec-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.load()
	if err != nil {
		return err
	}
	fn(&cfg)
	return s.save(cfg)
}

// LoadVRAM returns the serialized VRAM snapshot, or "" if none was saved.
func (s *FileStore) LoadVRAM() (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.VRAM, nil
}

// SaveVRAM replaces the VRAM snapshot, keeping the RAM one.
func (s *FileStore) SaveVRAM(blob string) error {
	return s.update(func(c *Config) { c.VRAM = blob })
}

// ClearVRAM drops the VRAM snapshot.
func (s *FileStore) ClearVRAM() error {
	return s.update(func(c *Config) { c.VRAM = "" })
}

// LoadRAM returns the serialized system-memory snapshot, or "" if none was saved.
func (s *FileStore) LoadRAM() (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.RAM, nil
}

// SaveRAM replaces the system-memory snapshot, keeping the VRAM one.
func (s *FileStore) SaveRAM(blob string) error {
	return s.update(func(c *Config) { c.RAM = blob })
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/vramcodec/internal/display"
	"github.com/breeze-rmm/vramcodec/internal/hwconfig"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

// AdapterConfig describes one GPU for hosts without DXGI enumeration.
type AdapterConfig struct {
	Name     string `mapstructure:"name"`
	VendorID uint32 `mapstructure:"vendor_id"`
	LUID     int64  `mapstructure:"luid"`
	Displays int    `mapstructure:"displays"`
}

type Config struct {
	LogFormat           string          `mapstructure:"log_format"`
	LogLevel            string          `mapstructure:"log_level"`
	EnableVRAM          bool            `mapstructure:"enable_vram"`
	StorePath           string          `mapstructure:"store_path"`
	StallMinBadLen      int             `mapstructure:"stall_min_bad_len"`
	StallMaxBadCount    int             `mapstructure:"stall_max_bad_count"`
	KeyframeInterval    int             `mapstructure:"keyframe_interval"`
	Quality             string          `mapstructure:"quality"`
	FFmpegPath          string          `mapstructure:"ffmpeg_path"`
	ProbeWorkers        int             `mapstructure:"probe_workers"`
	ProbeTimeoutSeconds int             `mapstructure:"probe_timeout_seconds"`
	Displays            []AdapterConfig `mapstructure:"displays"`
}

func Default() *Config {
	return &Config{
		LogFormat:           "text",
		LogLevel:            "info",
		EnableVRAM:          true,
		StallMinBadLen:      vram.DefaultStallPolicy().MinBadLen,
		StallMaxBadCount:    vram.DefaultStallPolicy().MaxBadCount,
		Quality:             "balanced",
		FFmpegPath:          "ffmpeg",
		ProbeWorkers:        2,
		ProbeTimeoutSeconds: 15,
	}
}

// Load reads cfgFile, or vramcodec.yaml from the config directory or the
// working directory. A missing file is not an error. VRAMCODEC_* environment
// variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vramcodec")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VRAMCODEC")
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("enable_vram", cfg.EnableVRAM)
	v.SetDefault("store_path", cfg.StorePath)
	v.SetDefault("stall_min_bad_len", cfg.StallMinBadLen)
	v.SetDefault("stall_max_bad_count", cfg.StallMaxBadCount)
	v.SetDefault("keyframe_interval", cfg.KeyframeInterval)
	v.SetDefault("quality", cfg.Quality)
	v.SetDefault("ffmpeg_path", cfg.FFmpegPath)
	v.SetDefault("probe_workers", cfg.ProbeWorkers)
	v.SetDefault("probe_timeout_seconds", cfg.ProbeTimeoutSeconds)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Stall returns the stuck-output thresholds for encoder sessions.
func (c *Config) Stall() vram.StallPolicy {
	return vram.StallPolicy{MinBadLen: c.StallMinBadLen, MaxBadCount: c.StallMaxBadCount}
}

// ParsedQuality returns the configured quality, or Balanced if it does not
// parse. ValidateTiered reports the bad value.
func (c *Config) ParsedQuality() vram.Quality {
	q, err := vram.ParseQuality(c.Quality)
	if err != nil {
		return vram.Balanced()
	}
	return q
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// SnapshotPath is where the capability snapshot is persisted.
func (c *Config) SnapshotPath() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(configDir(), hwconfig.FileName)
}

// StaticDisplays converts the configured adapters into a display source.
// It returns nil when none are configured.
func (c *Config) StaticDisplays() display.Static {
	if len(c.Displays) == 0 {
		return nil
	}
	adapters := make([]display.Adapter, len(c.Displays))
	counts := make([]int, len(c.Displays))
	for i, a := range c.Displays {
		adapters[i] = display.Adapter{Name: a.Name, VendorID: a.VendorID, LUID: a.LUID}
		counts[i] = a.Displays
	}
	return display.StaticFromCounts(adapters, counts)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "VRAMCodec")
	case "darwin":
		return "/Library/Application Support/VRAMCodec"
	default:
		return "/etc/vramcodec"
	}
}

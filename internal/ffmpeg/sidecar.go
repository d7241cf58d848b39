// Package ffmpeg probes hardware codec support by driving an ffmpeg binary.
// It implements vram.Prober and vram.FallbackChecker, and Engine implements
// vram.Engine on top of ffmpeg's vendor wrappers.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/vramcodec/internal/display"
	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/vram"
	"github.com/breeze-rmm/vramcodec/internal/workerpool"
)

var log = logging.L("ffmpeg")

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// codec maps one ffmpeg codec name onto the engine's vocabulary.
type codec struct {
	name   string
	driver vram.Driver
	vendor uint32
	format vram.DataFormat
}

var encoderCodecs = []codec{
	{"h264_nvenc", vram.DriverNV, vram.VendorNVIDIA, vram.FormatH264},
	{"hevc_nvenc", vram.DriverNV, vram.VendorNVIDIA, vram.FormatH265},
	{"h264_amf", vram.DriverAMF, vram.VendorAMD, vram.FormatH264},
	{"hevc_amf", vram.DriverAMF, vram.VendorAMD, vram.FormatH265},
	{"h264_qsv", vram.DriverMFX, vram.VendorIntel, vram.FormatH264},
	{"hevc_qsv", vram.DriverMFX, vram.VendorIntel, vram.FormatH265},
}

var decoderCodecs = []codec{
	{"h264_cuvid", vram.DriverNV, vram.VendorNVIDIA, vram.FormatH264},
	{"hevc_cuvid", vram.DriverNV, vram.VendorNVIDIA, vram.FormatH265},
	{"h264_qsv", vram.DriverMFX, vram.VendorIntel, vram.FormatH264},
	{"hevc_qsv", vram.DriverMFX, vram.VendorIntel, vram.FormatH265},
}

// Generic decoders usable through a GPU hwaccel on any vendor.
var genericDecoders = map[vram.DataFormat]string{
	vram.FormatH264: "h264",
	vram.FormatH265: "hevc",
}

// hwaccels that let ffmpeg keep decoded frames in GPU memory.
var gpuHWAccels = []string{"d3d11va", "vaapi"}

// Options configures a Sidecar.
type Options struct {
	// Path to the ffmpeg binary. Defaults to "ffmpeg".
	Path string
	// Runner defaults to ExecRunner.
	Runner Runner
	// Starter launches Engine sessions. Defaults to ExecStarter.
	Starter Starter
	// Adapters supplies the GPUs capabilities are attributed to.
	Adapters display.Enumerator
	// Workers bounds concurrent trial encodes. Defaults to 2.
	Workers int
	// Timeout bounds each ffmpeg invocation. Defaults to 15s.
	Timeout time.Duration
	// Store persists the system-memory fallback result. Optional.
	Store FallbackStore
}

// Sidecar inspects and trial-runs an ffmpeg binary.
type Sidecar struct {
	path     string
	run      Runner
	start    Starter
	adapters display.Enumerator
	workers  int
	timeout  time.Duration
	store    FallbackStore

	mu       sync.Mutex
	listing  *Listing
	fallback *FallbackSnapshot
}

// New builds a Sidecar. Nothing is executed until the first probe.
func New(opts Options) *Sidecar {
	s := &Sidecar{
		path:     opts.Path,
		run:      opts.Runner,
		start:    opts.Starter,
		adapters: opts.Adapters,
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		store:    opts.Store,
	}
	if s.path == "" {
		s.path = "ffmpeg"
	}
	if s.run == nil {
		s.run = ExecRunner
	}
	if s.start == nil {
		s.start = ExecStarter
	}
	if s.workers < 1 {
		s.workers = 2
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	return s
}

func (s *Sidecar) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.run(ctx, s.path, args...)
}

// Inspect runs -encoders, -decoders and -hwaccels concurrently. The result
// is cached for the life of the Sidecar.
func (s *Sidecar) Inspect(ctx context.Context) (Listing, error) {
	s.mu.Lock()
	cached := s.listing
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var l Listing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.exec(gctx, "-hide_banner", "-encoders")
		if err != nil {
			return fmt.Errorf("ffmpeg -encoders: %w", err)
		}
		l.Encoders = parseCodecList(out)
		return nil
	})
	g.Go(func() error {
		out, err := s.exec(gctx, "-hide_banner", "-decoders")
		if err != nil {
			return fmt.Errorf("ffmpeg -decoders: %w", err)
		}
		l.Decoders = parseCodecList(out)
		return nil
	})
	g.Go(func() error {
		out, err := s.exec(gctx, "-hide_banner", "-hwaccels")
		if err != nil {
			return fmt.Errorf("ffmpeg -hwaccels: %w", err)
		}
		l.HWAccels = parseHWAccels(out)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Listing{}, err
	}

	log.Info("ffmpeg inspected",
		"encoders", len(l.Encoders), "decoders", len(l.Decoders), "hwaccels", len(l.HWAccels))

	s.mu.Lock()
	s.listing = &l
	s.mu.Unlock()
	return l, nil
}

func (s *Sidecar) listAdapters() []display.Adapter {
	if s.adapters == nil {
		return nil
	}
	adapters, err := s.adapters.Adapters()
	if err != nil {
		log.Warn("adapter enumeration failed", logging.KeyError, err)
		return nil
	}
	return adapters
}

// gpuHWAccel returns the first listed hwaccel that can host GPU frames.
func (l Listing) gpuHWAccel() string {
	for _, name := range gpuHWAccels {
		if l.HasHWAccel(name) {
			return name
		}
	}
	return ""
}

// trialArgs encodes one black frame from a synthetic source and discards it.
// A non-empty accel uploads the frame to a GPU device of that type first, so
// only an encoder able to take GPU input passes.
func trialArgs(name string, d vram.DynamicContext, accel string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if accel != "" {
		args = append(args, "-init_hw_device", accel+"=gpu", "-filter_hw_device", "gpu")
	}
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", d.Width, d.Height, d.Framerate),
	)
	if accel != "" {
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args,
		"-frames:v", "1",
		"-c:v", name,
		"-b:v", strconv.Itoa(d.KBitrate)+"k",
	)
	if d.GOP > 0 && d.GOP != vram.MaxGOP {
		args = append(args, "-g", strconv.Itoa(d.GOP))
	}
	return append(args, "-f", "null", "-")
}

func (l Listing) encoderCandidates() []codec {
	var out []codec
	for _, c := range encoderCodecs {
		if l.HasEncoder(c.name) {
			out = append(out, c)
		}
	}
	return out
}

// runTrials runs one trial per candidate on the worker pool and returns the
// names that exited cleanly.
func (s *Sidecar) runTrials(ctx context.Context, candidates []codec, d vram.DynamicContext, accel string) (map[string]bool, error) {
	var (
		mu     sync.Mutex
		passed = make(map[string]bool, len(candidates))
	)
	pool := workerpool.New(s.workers, len(candidates)+1)
	for _, c := range candidates {
		err := pool.SubmitWait(ctx, func(context.Context) {
			if _, err := s.exec(ctx, trialArgs(c.name, d, accel)...); err != nil {
				log.Debug("trial encode failed", "encoder", c.name, "hwaccel", accel, logging.KeyError, err)
				return
			}
			mu.Lock()
			passed[c.name] = true
			mu.Unlock()
		})
		if err != nil {
			pool.Shutdown(context.Background())
			return nil, err
		}
	}
	pool.Shutdown(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return passed, nil
}

// ProbeEncoders trial-encodes one GPU-resident frame with every vendor
// encoder ffmpeg lists, and reports each success against every adapter of
// that vendor alongside an ffmpeg-driver entry. Without a GPU hwaccel no
// encoder can take VRAM input and nothing is reported.
func (s *Sidecar) ProbeEncoders(ctx context.Context, d vram.DynamicContext) ([]vram.FeatureContext, error) {
	l, err := s.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	accel := l.gpuHWAccel()
	if accel == "" {
		log.Info("no GPU hwaccel listed, skipping VRAM encoder trials")
		return nil, nil
	}

	candidates := l.encoderCandidates()
	passed, err := s.runTrials(ctx, candidates, d, accel)
	if err != nil {
		return nil, err
	}

	var out []vram.FeatureContext
	for _, a := range s.listAdapters() {
		for _, c := range candidates {
			if !passed[c.name] || c.vendor != a.VendorID {
				continue
			}
			out = append(out,
				vram.FeatureContext{Driver: c.driver, Vendor: a.VendorID, LUID: a.LUID, Format: c.format},
				vram.FeatureContext{Driver: vram.DriverFFmpeg, Vendor: a.VendorID, LUID: a.LUID, Format: c.format},
			)
		}
	}
	log.Info("encoder probe complete",
		"hwaccel", accel, "candidates", len(candidates), "passed", len(passed), "contexts", len(out))
	return out, nil
}

// ProbeDecoders reports vendor decoders per matching adapter, plus
// ffmpeg-driver decoders on every adapter when a GPU hwaccel is available.
func (s *Sidecar) ProbeDecoders(ctx context.Context) ([]vram.DecodeContext, error) {
	l, err := s.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	hw := l.gpuHWAccel() != ""

	var out []vram.DecodeContext
	for _, a := range s.listAdapters() {
		for _, c := range decoderCodecs {
			if c.vendor == a.VendorID && l.HasDecoder(c.name) {
				out = append(out, vram.DecodeContext{Driver: c.driver, Vendor: a.VendorID, LUID: a.LUID, Format: c.format})
			}
		}
		if !hw {
			continue
		}
		for _, f := range []vram.DataFormat{vram.FormatH264, vram.FormatH265} {
			if l.HasDecoder(genericDecoders[f]) {
				out = append(out, vram.DecodeContext{Driver: vram.DriverFFmpeg, Vendor: a.VendorID, LUID: a.LUID, Format: f})
			}
		}
	}
	return out, nil
}

// VendorEncoders returns the hardware encoders this ffmpeg build lists.
func (l Listing) VendorEncoders() []string {
	var names []string
	for _, c := range encoderCodecs {
		if l.HasEncoder(c.name) {
			names = append(names, c.name)
		}
	}
	return names
}

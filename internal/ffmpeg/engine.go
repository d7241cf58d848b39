package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

// ErrFixedBitrate is returned by SetBitrate: an ffmpeg process keeps the
// bitrate it was started with.
var ErrFixedBitrate = errors.New("ffmpeg: bitrate is fixed for the life of the process")

// Process is a running ffmpeg child with its stdio pipes.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Stop closes stdin, terminates the process and reaps it.
	Stop() error
}

// Starter launches a Process.
type Starter func(ctx context.Context, name string, args ...string) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// ExecStarter starts the command with os/exec.
func ExecStarter(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Stop() error {
	p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return nil
	}
	return err
}

// Engine opens codec sessions as long-lived ffmpeg processes. Encoders read
// a synthetic test pattern in place of captured frames, so the frame handle
// passed to Encode is ignored.
type Engine struct {
	path  string
	accel string
	start Starter

	// DecodeWidth and DecodeHeight size decoded NV12 output.
	DecodeWidth  int
	DecodeHeight int
	// FrameWait bounds how long Decode waits for a picture to come back.
	FrameWait time.Duration
}

// Engine returns an engine driving the same ffmpeg binary, uploading frames
// through the first GPU hwaccel it lists.
func (s *Sidecar) Engine(ctx context.Context) (*Engine, error) {
	l, err := s.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{
		path:         s.path,
		accel:        l.gpuHWAccel(),
		start:        s.start,
		DecodeWidth:  1280,
		DecodeHeight: 720,
		FrameWait:    100 * time.Millisecond,
	}, nil
}

var vendorEncoderSuffix = map[uint32]string{
	vram.VendorNVIDIA: "nvenc",
	vram.VendorAMD:    "amf",
	vram.VendorIntel:  "qsv",
}

var driverEncoderSuffix = map[vram.Driver]string{
	vram.DriverNV:  "nvenc",
	vram.DriverAMF: "amf",
	vram.DriverMFX: "qsv",
}

func formatPrefix(f vram.DataFormat) string {
	if f == vram.FormatH265 {
		return "hevc"
	}
	return "h264"
}

// encoderName picks the ffmpeg encoder serving a capability entry. The
// ffmpeg driver goes through whichever wrapper matches the adapter vendor.
func encoderName(fc vram.FeatureContext) (string, error) {
	suffix, ok := driverEncoderSuffix[fc.Driver]
	if fc.Driver == vram.DriverFFmpeg {
		suffix, ok = vendorEncoderSuffix[fc.Vendor]
	}
	if !ok {
		return "", fmt.Errorf("no ffmpeg encoder for %s", fc)
	}
	return formatPrefix(fc.Format) + "_" + suffix, nil
}

// decoderName picks the ffmpeg decoder for a capability entry. An empty name
// with a nil error means the generic decoder behind a hwaccel.
func decoderName(dc vram.DecodeContext) (string, error) {
	switch dc.Driver {
	case vram.DriverNV:
		return formatPrefix(dc.Format) + "_cuvid", nil
	case vram.DriverMFX:
		return formatPrefix(dc.Format) + "_qsv", nil
	case vram.DriverFFmpeg:
		return "", nil
	default:
		return "", fmt.Errorf("no ffmpeg decoder for %s", dc)
	}
}

func (e *Engine) encoderArgs(name string, ctx vram.EncodeContext) []string {
	d := ctx.Dynamic
	prefix := formatPrefix(ctx.Feature.Format)
	args := []string{"-hide_banner", "-loglevel", "error"}
	if e.accel != "" {
		args = append(args, "-init_hw_device", e.accel+"=gpu", "-filter_hw_device", "gpu")
	}
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc2=s=%dx%d:r=%d", d.Width, d.Height, d.Framerate),
	)
	if e.accel != "" {
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args,
		"-c:v", name,
		"-b:v", strconv.Itoa(d.KBitrate)+"k",
	)
	if d.GOP > 0 && d.GOP != vram.MaxGOP {
		args = append(args, "-g", strconv.Itoa(d.GOP))
	}
	return append(args,
		"-bsf:v", prefix+"_metadata=aud=insert",
		"-f", prefix, "pipe:1",
	)
}

func (e *Engine) decoderArgs(name string, dc vram.DecodeContext) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if name == "" && e.accel != "" {
		args = append(args, "-hwaccel", e.accel)
	}
	if name != "" {
		args = append(args, "-c:v", name)
	}
	return append(args,
		"-f", formatPrefix(dc.Format), "-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", e.DecodeWidth, e.DecodeHeight),
		"-pix_fmt", "nv12",
		"-f", "rawvideo", "pipe:1",
	)
}

// OpenEncoder starts an ffmpeg process encoding at the context's bitrate.
func (e *Engine) OpenEncoder(ctx vram.EncodeContext) (vram.NativeEncoder, error) {
	name, err := encoderName(ctx.Feature)
	if err != nil {
		return nil, err
	}
	proc, err := e.start(context.Background(), e.path, e.encoderArgs(name, ctx)...)
	if err != nil {
		return nil, err
	}
	log.Debug("ffmpeg encoder started", "encoder", name, logging.KeyLUID, ctx.Feature.LUID)
	return &nativeEncoder{proc: proc, au: newAUReader(proc.Stdout(), ctx.Feature.Format)}, nil
}

// OpenDecoder starts an ffmpeg process decoding to raw NV12.
func (e *Engine) OpenDecoder(ctx vram.DecodeContext) (vram.NativeDecoder, error) {
	name, err := decoderName(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" && e.accel == "" {
		return nil, fmt.Errorf("no GPU hwaccel for %s", ctx)
	}
	if e.DecodeWidth <= 0 || e.DecodeHeight <= 0 {
		return nil, fmt.Errorf("%w: decode %dx%d", vram.ErrInvalidDimensions, e.DecodeWidth, e.DecodeHeight)
	}
	proc, err := e.start(context.Background(), e.path, e.decoderArgs(name, ctx)...)
	if err != nil {
		return nil, err
	}
	d := &nativeDecoder{
		proc:   proc,
		width:  e.DecodeWidth,
		height: e.DecodeHeight,
		wait:   e.FrameWait,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

type nativeEncoder struct {
	proc Process
	au   *auReader
	pts  int64
}

// Encode returns the next access unit the process produced.
func (n *nativeEncoder) Encode(uintptr) ([]vram.NativeFrame, error) {
	data, key, err := n.au.next()
	if err != nil {
		return nil, fmt.Errorf("read access unit: %w", err)
	}
	f := vram.NativeFrame{Data: data, PTS: n.pts, Key: key}
	n.pts++
	return []vram.NativeFrame{f}, nil
}

func (n *nativeEncoder) SetBitrate(int) error { return ErrFixedBitrate }

func (n *nativeEncoder) Close() error { return n.proc.Stop() }

type nativeDecoder struct {
	proc   Process
	width  int
	height int
	wait   time.Duration

	mu      sync.Mutex
	ready   []vram.NativeImage
	readErr error
	notify  chan struct{}
	done    chan struct{}
}

func (d *nativeDecoder) readLoop() {
	defer close(d.done)
	size := d.width * d.height * 3 / 2
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(d.proc.Stdout(), buf); err != nil {
			if !errors.Is(err, io.EOF) {
				d.mu.Lock()
				d.readErr = err
				d.mu.Unlock()
			}
			return
		}
		d.mu.Lock()
		d.ready = append(d.ready, vram.NativeImage{Width: d.width, Height: d.height, Data: buf})
		d.mu.Unlock()
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// Decode feeds data to the process and returns every picture decoded so
// far, waiting up to FrameWait for one to arrive.
func (d *nativeDecoder) Decode(data []byte) ([]vram.NativeImage, error) {
	if _, err := d.proc.Stdin().Write(data); err != nil {
		return nil, fmt.Errorf("write to ffmpeg: %w", err)
	}

	d.mu.Lock()
	have := len(d.ready) > 0
	d.mu.Unlock()
	if !have && d.wait > 0 {
		timer := time.NewTimer(d.wait)
		select {
		case <-d.notify:
		case <-d.done:
		case <-timer.C:
		}
		timer.Stop()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.ready
	d.ready = nil
	if len(out) == 0 && d.readErr != nil {
		return nil, d.readErr
	}
	return out, nil
}

func (d *nativeDecoder) Close() error {
	err := d.proc.Stop()
	<-d.done
	return err
}

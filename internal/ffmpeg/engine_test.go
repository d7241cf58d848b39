package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/vramcodec/internal/vram"
)

type fakeProcess struct {
	mu      sync.Mutex
	args    []string
	stdin   bytes.Buffer
	stdout  io.Reader
	stopped bool
}

func (p *fakeProcess) Stdin() io.WriteCloser { return nopCloser{p} }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdout }

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

type nopCloser struct{ p *fakeProcess }

func (n nopCloser) Write(b []byte) (int, error) {
	n.p.mu.Lock()
	defer n.p.mu.Unlock()
	return n.p.stdin.Write(b)
}

func (nopCloser) Close() error { return nil }

type fakeStarter struct {
	stdout []byte
	err    error
	procs  []*fakeProcess
}

func (f *fakeStarter) start(ctx context.Context, name string, args ...string) (Process, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakeProcess{args: args, stdout: bytes.NewReader(f.stdout)}
	f.procs = append(f.procs, p)
	return p, nil
}

// h264AU builds AUD + optional SPS/PPS + one slice of n payload bytes.
func h264AU(key bool, n int) []byte {
	out := []byte{0, 0, 0, 1, 0x09, 0xF0}
	slice := byte(0x41)
	if key {
		out = append(out, 0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68, 0xCE)
		slice = 0x65
	}
	out = append(out, 0, 0, 1, slice)
	return append(out, bytes.Repeat([]byte{0xAA}, n)...)
}

func TestNALScanner(t *testing.T) {
	stream := []byte{0xFF, 0xFF, 0, 0, 1, 0x67, 0x01, 0, 0, 0, 1, 0x68, 0x02, 0, 0, 1, 0, 0, 1, 0x65, 0x03, 0, 0}
	s := newNALScanner(bytes.NewReader(stream))

	want := [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03}}
	for i, w := range want {
		got, err := s.next()
		if err != nil {
			t.Fatalf("nal %d: %v", i, err)
		}
		if !bytes.Equal(got, w) {
			t.Fatalf("nal %d = %x, want %x", i, got, w)
		}
	}
	if _, err := s.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestAUReaderH264(t *testing.T) {
	var stream []byte
	stream = append(stream, h264AU(true, 200)...)
	stream = append(stream, h264AU(false, 120)...)
	stream = append(stream, h264AU(false, 90)...)
	r := newAUReader(bytes.NewReader(stream), vram.FormatH264)

	wantKey := []bool{true, false, false}
	for i, key := range wantKey {
		data, gotKey, err := r.next()
		if err != nil {
			t.Fatalf("au %d: %v", i, err)
		}
		if gotKey != key {
			t.Fatalf("au %d key = %v, want %v", i, gotKey, key)
		}
		if !bytes.HasPrefix(data, []byte{0, 0, 0, 1, 0x09}) {
			t.Fatalf("au %d should start with the delimiter: %x", i, data[:8])
		}
	}
	if _, _, err := r.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestAUReaderH265(t *testing.T) {
	aud := []byte{0, 0, 0, 1, 0x46, 0x01, 0x50}
	var stream []byte
	stream = append(stream, aud...)
	stream = append(stream, 0, 0, 1, 0x26, 0x01, 0xAA) // IDR_W_RADL
	stream = append(stream, aud...)
	stream = append(stream, 0, 0, 1, 0x02, 0x01, 0xBB) // TRAIL_R
	r := newAUReader(bytes.NewReader(stream), vram.FormatH265)

	if _, key, err := r.next(); err != nil || !key {
		t.Fatalf("first au key=%v err=%v, want key", key, err)
	}
	if _, key, err := r.next(); err != nil || key {
		t.Fatalf("second au key=%v err=%v, want non-key", key, err)
	}
}

func TestEncoderName(t *testing.T) {
	cases := []struct {
		fc   vram.FeatureContext
		want string
	}{
		{vram.FeatureContext{Driver: vram.DriverNV, Format: vram.FormatH264}, "h264_nvenc"},
		{vram.FeatureContext{Driver: vram.DriverAMF, Format: vram.FormatH265}, "hevc_amf"},
		{vram.FeatureContext{Driver: vram.DriverMFX, Format: vram.FormatH264}, "h264_qsv"},
		{vram.FeatureContext{Driver: vram.DriverFFmpeg, Vendor: vram.VendorIntel, Format: vram.FormatH265}, "hevc_qsv"},
	}
	for _, tc := range cases {
		got, err := encoderName(tc.fc)
		if err != nil || got != tc.want {
			t.Errorf("encoderName(%s) = %q, %v; want %q", tc.fc, got, err, tc.want)
		}
	}
	if _, err := encoderName(vram.FeatureContext{Driver: vram.DriverFFmpeg, Vendor: 0x1234}); err == nil {
		t.Error("unknown vendor should have no encoder")
	}
}

func newTestEngine(f *fakeStarter) *Engine {
	return &Engine{
		path:         "ffmpeg",
		accel:        "d3d11va",
		start:        f.start,
		DecodeWidth:  16,
		DecodeHeight: 16,
		FrameWait:    time.Second,
	}
}

func TestEngineEncoderSession(t *testing.T) {
	var stream []byte
	stream = append(stream, h264AU(true, 400)...)
	stream = append(stream, h264AU(false, 150)...)
	starter := &fakeStarter{stdout: stream}

	enc, err := vram.NewEncoder(newTestEngine(starter), vram.EncoderConfig{
		Width: 1920, Height: 1080, Quality: vram.Balanced(), KeyframeInterval: 120,
		Feature: vram.FeatureContext{Driver: vram.DriverNV, Vendor: vram.VendorNVIDIA, LUID: 7, Format: vram.FormatH264},
	})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	args := strings.Join(starter.procs[0].args, " ")
	for _, want := range []string{
		"-init_hw_device d3d11va=gpu",
		"testsrc2=s=1920x1080:r=30",
		"-vf format=nv12,hwupload",
		"-c:v h264_nvenc",
		"-b:v 2073k",
		"-g 120",
		"-bsf:v h264_metadata=aud=insert",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("encoder args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "-f h264 pipe:1") {
		t.Errorf("encoder should write raw h264 to stdout: %s", args)
	}

	first, err := enc.Encode(0)
	if err != nil || len(first) != 1 || !first[0].Key || first[0].PTS != 0 {
		t.Fatalf("first Encode = %+v, %v", first, err)
	}
	second, err := enc.Encode(0)
	if err != nil || len(second) != 1 || second[0].Key || second[0].PTS != 1 {
		t.Fatalf("second Encode = %+v, %v", second, err)
	}
	// The process has exited; that is transient, not a stall.
	if pkts, err := enc.Encode(0); err != nil || pkts != nil {
		t.Fatalf("Encode after EOF = %v, %v; want nil, nil", pkts, err)
	}

	if err := enc.SetQuality(vram.Best()); err != nil {
		t.Fatalf("SetQuality should be best-effort, got %v", err)
	}
	if enc.Bitrate() != 2073 {
		t.Fatalf("bitrate = %d, fixed-bitrate engine should keep 2073", enc.Bitrate())
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !starter.procs[0].stopped {
		t.Fatal("Close should stop the process")
	}
}

func TestEngineOpenEncoderStartFailure(t *testing.T) {
	boom := errors.New("exec: not found")
	_, err := vram.NewEncoder(newTestEngine(&fakeStarter{err: boom}), vram.EncoderConfig{
		Width: 640, Height: 480,
		Feature: vram.FeatureContext{Driver: vram.DriverAMF, Vendor: vram.VendorAMD, Format: vram.FormatH265},
	})
	if !errors.Is(err, vram.ErrConstruction) || !errors.Is(err, boom) {
		t.Fatalf("expected construction error wrapping start failure, got %v", err)
	}
}

func TestEngineDecoderSession(t *testing.T) {
	frame := 16 * 16 * 3 / 2
	starter := &fakeStarter{stdout: bytes.Repeat([]byte{0x80}, 2*frame)}
	e := newTestEngine(starter)

	native, err := e.OpenDecoder(vram.DecodeContext{Driver: vram.DriverFFmpeg, Vendor: vram.VendorNVIDIA, Format: vram.FormatH265})
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	args := strings.Join(starter.procs[0].args, " ")
	for _, want := range []string{"-hwaccel d3d11va", "-f hevc -i pipe:0", "scale=16:16", "-pix_fmt nv12", "-f rawvideo pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("decoder args missing %q: %s", want, args)
		}
	}

	total := 0
	for i := 0; i < 10 && total < 2; i++ {
		imgs, err := native.Decode([]byte{0, 0, 0, 1, 0x46})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		for _, img := range imgs {
			if img.Width != 16 || img.Height != 16 || len(img.Data) != frame {
				t.Fatalf("unexpected image %dx%d len %d", img.Width, img.Height, len(img.Data))
			}
		}
		total += len(imgs)
	}
	if total != 2 {
		t.Fatalf("decoded %d frames, want 2", total)
	}
	if starter.procs[0].stdin.Len() == 0 {
		t.Fatal("compressed data never reached the process")
	}
	if err := native.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEngineOpenDecoderRejects(t *testing.T) {
	e := newTestEngine(&fakeStarter{})
	if _, err := e.OpenDecoder(vram.DecodeContext{Driver: vram.DriverAMF, Format: vram.FormatH264}); err == nil {
		t.Fatal("amf has no ffmpeg decoder")
	}

	e.accel = ""
	if _, err := e.OpenDecoder(vram.DecodeContext{Driver: vram.DriverFFmpeg, Format: vram.FormatH264}); err == nil {
		t.Fatal("generic decoder needs a GPU hwaccel")
	}
	native, err := e.OpenDecoder(vram.DecodeContext{Driver: vram.DriverNV, Format: vram.FormatH264})
	if err != nil {
		t.Fatalf("cuvid needs no hwaccel: %v", err)
	}
	native.Close()
}

func TestSidecarEngine(t *testing.T) {
	starter := &fakeStarter{}
	s := New(Options{Path: "/opt/ffmpeg", Runner: (&fakeFFmpeg{}).run, Starter: starter.start})

	e, err := s.Engine(context.Background())
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if e.accel != "d3d11va" || e.path != "/opt/ffmpeg" {
		t.Fatalf("engine accel=%q path=%q", e.accel, e.path)
	}
}

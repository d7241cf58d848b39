package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/vramcodec/internal/display"
	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/observe"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var (
	trialFrames int
	trialWidth  int
	trialHeight int
	trialDecode bool
)

var trialCmd = &cobra.Command{
	Use:   "trial",
	Short: "Run a short encode session on the preferred VRAM encoder",
	Long: `trial opens the encoder a session would pick for the adapter, pushes a
synthetic test pattern through it and reports what came out. With --decode the
packets are fed back through the preferred decoder on the same adapter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runTrial)
	},
}

func init() {
	trialCmd.Flags().StringVar(&formatName, "format", "h264", "codec format (h264 or h265)")
	trialCmd.Flags().Int64Var(&luid, "luid", 0, "adapter LUID (default is the first adapter with a VRAM encoder)")
	trialCmd.Flags().IntVar(&trialFrames, "frames", 60, "number of frames to encode")
	trialCmd.Flags().IntVar(&trialWidth, "width", 1280, "frame width")
	trialCmd.Flags().IntVar(&trialHeight, "height", 720, "frame height")
	trialCmd.Flags().BoolVar(&trialDecode, "decode", false, "decode the encoded packets on the same adapter")
}

type trialResult struct {
	Adapter   string `json:"adapter"`
	LUID      int64  `json:"luid"`
	Encoder   string `json:"encoder"`
	Decoder   string `json:"decoder,omitempty"`
	KBitrate  int    `json:"kbitrate"`
	Frames    int    `json:"frames"`
	Packets   int    `json:"packets"`
	Bytes     int    `json:"bytes"`
	KeyFrames int    `json:"keyFrames"`
	Decoded   int    `json:"decoded"`
	Switched  bool   `json:"switched"`
}

// pickAdapter returns the adapter named by --luid, or the first one with a
// usable encoder for format.
func pickAdapter(a *app, format vram.DataFormat) (display.Adapter, vram.FeatureContext, error) {
	adapters, err := a.adapters.Adapters()
	if err != nil {
		return display.Adapter{}, vram.FeatureContext{}, err
	}
	for _, ad := range adapters {
		if luid != 0 && ad.LUID != luid {
			continue
		}
		if fc, ok := a.registry.PreferredEncoder(ad.Device(), format); ok {
			return ad, fc, nil
		}
	}
	return display.Adapter{}, vram.FeatureContext{}, fmt.Errorf("%w: %s encoder, run vramctl probe first", vram.ErrNoMatchingCapability, format)
}

func runTrial(ctx context.Context, a *app) error {
	logger := logging.FromContext(ctx)
	format, err := vram.ParseDataFormat(formatName)
	if err != nil {
		return err
	}
	if trialFrames < 1 {
		return fmt.Errorf("--frames must be positive, got %d", trialFrames)
	}
	ad, fc, err := pickAdapter(a, format)
	if err != nil {
		return err
	}

	engine, err := a.sidecar.Engine(ctx)
	if err != nil {
		return err
	}
	engine.DecodeWidth, engine.DecodeHeight = trialWidth, trialHeight

	enc, err := vram.NewEncoder(engine, vram.EncoderConfig{
		Device:           ad.Device(),
		Width:            trialWidth,
		Height:           trialHeight,
		Quality:          a.cfg.ParsedQuality(),
		Feature:          fc,
		KeyframeInterval: a.cfg.KeyframeInterval,
		Stall:            a.cfg.Stall(),
	}, vram.WithEncoderMetrics(observe.DefaultMetrics()))
	if err != nil {
		return err
	}
	defer enc.Close()

	res := trialResult{Adapter: ad.Name, LUID: ad.LUID, Encoder: string(fc.Driver), KBitrate: enc.Bitrate()}

	var dec *vram.Decoder
	if trialDecode {
		dec, err = vram.NewDecoder(a.registry, engine, format, ad.LUID)
		if err != nil {
			return err
		}
		defer dec.Close()
		res.Decoder = string(dec.Context().Driver)
	}

	logger.Info("trial session started", "encoder", fc.String(), "kbitrate", res.KBitrate, "frames", trialFrames)
	for res.Frames < trialFrames {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Frames++
		packets, err := enc.Encode(0)
		if errors.Is(err, vram.ErrSwitchCodecPath) {
			res.Switched = true
			break
		}
		if err != nil {
			return err
		}
		for _, p := range packets {
			res.Packets++
			res.Bytes += len(p.Data)
			if p.Key {
				res.KeyFrames++
			}
			if dec == nil {
				continue
			}
			frames, err := dec.Decode(p.Data)
			if err != nil {
				return err
			}
			res.Decoded += len(frames)
		}
	}

	if jsonOutput {
		return a.printJSON(res)
	}
	fmt.Fprintf(a.out, "Adapter: %s (luid=%d)\n", res.Adapter, res.LUID)
	fmt.Fprintf(a.out, "Encoder: %s %s at %d kbps\n", res.Encoder, format, res.KBitrate)
	fmt.Fprintf(a.out, "Encoded %d frames into %d packets, %d bytes, %d key\n", res.Frames, res.Packets, res.Bytes, res.KeyFrames)
	if dec != nil {
		fmt.Fprintf(a.out, "Decoder: %s, %d pictures\n", res.Decoder, res.Decoded)
	}
	if res.Switched {
		fmt.Fprintln(a.out, "Output stalled, a session would switch to a system-memory encoder")
	}
	return nil
}

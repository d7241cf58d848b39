package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/vramcodec/internal/config"
	"github.com/breeze-rmm/vramcodec/internal/display"
	"github.com/breeze-rmm/vramcodec/internal/ffmpeg"
	"github.com/breeze-rmm/vramcodec/internal/health"
	"github.com/breeze-rmm/vramcodec/internal/hostinfo"
	"github.com/breeze-rmm/vramcodec/internal/hwconfig"
	"github.com/breeze-rmm/vramcodec/internal/logging"
	"github.com/breeze-rmm/vramcodec/internal/observe"
	"github.com/breeze-rmm/vramcodec/internal/vram"
)

var (
	version        = "0.1.0"
	cfgFile        string
	formatName     string
	luid           int64
	disabledScreen []int
	jsonOutput     bool
)

var log = logging.L("vramctl")

// Swapped out by tests.
var (
	ffmpegRunner  ffmpeg.Runner  = ffmpeg.ExecRunner
	ffmpegStarter ffmpeg.Starter = ffmpeg.ExecStarter
)

var rootCmd = &cobra.Command{
	Use:           "vramctl",
	Short:         "Inspect hardware video codec capabilities",
	Long:          `vramctl probes the GPU encode and decode paths on this machine, persists the result, and answers which path a session would use.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe hardware codecs and save the capability snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runProbe)
	},
}

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "List encoders usable for the connected displays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, listEncoders)
	},
}

var decodersCmd = &cobra.Command{
	Use:   "decoders",
	Short: "List decoders on one adapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, listDecoders)
	},
}

var possibleCmd = &cobra.Command{
	Use:   "possible",
	Short: "Report whether H.264 and H.265 hardware decoding may be available",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, reportPossible)
	},
}

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List adapters and the displays they drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, listDisplays)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the snapshot, ffmpeg and display enumeration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, checkStatus)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vramctl v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is vramcodec.yaml in the config directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	encodersCmd.Flags().StringVar(&formatName, "format", "h264", "codec format (h264 or h265)")
	encodersCmd.Flags().IntSliceVar(&disabledScreen, "disable-display", nil, "treat these display indexes as having hardware encoding disabled")
	decodersCmd.Flags().StringVar(&formatName, "format", "h264", "codec format (h264 or h265)")
	decodersCmd.Flags().Int64Var(&luid, "luid", 0, "adapter LUID to match")
	_ = decodersCmd.MarkFlagRequired("luid")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(encodersCmd)
	rootCmd.AddCommand(decodersCmd)
	rootCmd.AddCommand(possibleCmd)
	rootCmd.AddCommand(displaysCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(trialCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired set of collaborators every subcommand works against.
type app struct {
	cfg      *config.Config
	store    *hwconfig.FileStore
	adapters display.Enumerator
	sidecar  *ffmpeg.Sidecar
	registry *vram.Registry
	out      io.Writer
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.NewContext(ctx, log.With("command", cmd.Name()))
	return fn(ctx, a)
}

func newApp(out io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	for _, w := range result.Warnings {
		log.Warn("config validation", logging.KeyError, w)
	}

	var adapters display.Enumerator
	if static := cfg.StaticDisplays(); static != nil {
		adapters = static
	} else if sys, err := display.System(); err == nil {
		adapters = sys
	} else {
		log.Warn("no adapter enumeration, configure displays to enable coverage checks", logging.KeyError, err)
		adapters = display.Static{}
	}

	store := hwconfig.NewFileStore(cfg.SnapshotPath())
	sidecar := ffmpeg.New(ffmpeg.Options{
		Path:     cfg.FFmpegPath,
		Runner:   ffmpegRunner,
		Starter:  ffmpegStarter,
		Adapters: adapters,
		Workers:  cfg.ProbeWorkers,
		Timeout:  cfg.ProbeTimeout(),
		Store:    store,
	})
	enabled := cfg.EnableVRAM

	registry := vram.NewRegistry(vram.RegistryOptions{
		Store:      store,
		Displays:   display.Lister{Source: adapters},
		Fallback:   sidecar,
		Prober:     sidecar,
		EnableVRAM: func() bool { return enabled },
		Host:       hostinfo.Collect,
		Metrics:    observe.DefaultMetrics(),
	})
	return &app{cfg: cfg, store: store, adapters: adapters, sidecar: sidecar, registry: registry, out: out}, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runProbe(ctx context.Context, a *app) error {
	logger := logging.FromContext(ctx)
	blob, err := a.registry.Probe(ctx)
	if err != nil {
		return err
	}
	if err := a.store.SaveVRAM(string(blob)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	snap, err := vram.UnmarshalSnapshot(string(blob))
	if err != nil {
		return err
	}
	// ProbeFallback persists its own result next to the VRAM snapshot.
	fallback, err := a.sidecar.ProbeFallback(ctx)
	if err != nil {
		logger.Warn("fallback probe failed", logging.KeyError, err)
	}
	if jsonOutput {
		return a.printJSON(struct {
			vram.Snapshot
			Fallback ffmpeg.FallbackSnapshot `json:"fallback"`
		}{snap, fallback})
	}
	fmt.Fprintf(a.out, "Snapshot %s saved to %s\n", snap.ID, a.store.Path())
	fmt.Fprintf(a.out, "Encoders: %d\n", len(snap.Encoders))
	for _, e := range snap.Encoders {
		fmt.Fprintf(a.out, "  %-6s %-5s %-7s luid=%d\n", e.Driver, e.Format, vram.VendorName(e.Vendor), e.LUID)
	}
	fmt.Fprintf(a.out, "Decoders: %d\n", len(snap.Decoders))
	for _, d := range snap.Decoders {
		fmt.Fprintf(a.out, "  %-6s %-5s %-7s luid=%d\n", d.Driver, d.Format, vram.VendorName(d.Vendor), d.LUID)
	}
	fmt.Fprintf(a.out, "System-memory fallback: %s\n", formatList(fallback.Formats))
	return nil
}

func formatList(formats []vram.DataFormat) string {
	if len(formats) == 0 {
		return "none"
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func listEncoders(ctx context.Context, a *app) error {
	format, err := vram.ParseDataFormat(formatName)
	if err != nil {
		return err
	}
	for _, idx := range disabledScreen {
		a.registry.SetDisplayDisabled(idx, true)
	}

	encoders := a.registry.AvailableEncoders(format)
	adapters, err := a.adapters.Adapters()
	if err != nil {
		return err
	}
	type preferred struct {
		Adapter string              `json:"adapter"`
		LUID    int64               `json:"luid"`
		Encoder vram.FeatureContext `json:"encoder"`
	}
	var picks []preferred
	for _, ad := range adapters {
		if fc, ok := a.registry.PreferredEncoder(ad.Device(), format); ok {
			picks = append(picks, preferred{Adapter: ad.Name, LUID: ad.LUID, Encoder: fc})
		}
	}

	if jsonOutput {
		return a.printJSON(map[string]any{"available": encoders, "preferred": picks})
	}
	if len(encoders) == 0 {
		fmt.Fprintf(a.out, "No %s hardware encoder covers every display\n", format)
	}
	for _, e := range encoders {
		fmt.Fprintf(a.out, "%-6s %-7s luid=%d\n", e.Driver, vram.VendorName(e.Vendor), e.LUID)
	}
	for _, p := range picks {
		fmt.Fprintf(a.out, "preferred on %s (luid=%d): %s\n", p.Adapter, p.LUID, p.Encoder.Driver)
	}
	return nil
}

func listDecoders(ctx context.Context, a *app) error {
	format, err := vram.ParseDataFormat(formatName)
	if err != nil {
		return err
	}
	decoders := a.registry.AvailableDecoders(format, luid)
	pick, ok := a.registry.PreferredDecoder(format, luid)

	if jsonOutput {
		out := map[string]any{"available": decoders}
		if ok {
			out["preferred"] = pick
		}
		return a.printJSON(out)
	}
	if len(decoders) == 0 {
		fmt.Fprintf(a.out, "No %s hardware decoder on luid=%d\n", format, luid)
		return nil
	}
	for _, d := range decoders {
		fmt.Fprintf(a.out, "%-6s %-7s\n", d.Driver, vram.VendorName(d.Vendor))
	}
	fmt.Fprintf(a.out, "preferred: %s\n", pick.Driver)
	return nil
}

func reportPossible(ctx context.Context, a *app) error {
	h264, h265 := a.registry.PossiblyAvailable()
	if jsonOutput {
		return a.printJSON(map[string]bool{"h264": h264, "h265": h265})
	}
	fmt.Fprintf(a.out, "h264: %v\nh265: %v\n", h264, h265)
	return nil
}

func listDisplays(ctx context.Context, a *app) error {
	adapters, err := a.adapters.Adapters()
	if err != nil {
		return err
	}
	if jsonOutput {
		return a.printJSON(adapters)
	}
	if len(adapters) == 0 {
		fmt.Fprintln(a.out, "No adapters found")
	}
	for _, ad := range adapters {
		fmt.Fprintf(a.out, "%s (%s) luid=%d\n", ad.Name, vram.VendorName(ad.VendorID), ad.LUID)
		for _, d := range ad.Displays {
			fmt.Fprintf(a.out, "  #%d %s\n", d.Index, d.Name)
		}
	}
	return nil
}

func checkStatus(ctx context.Context, a *app) error {
	m := health.NewMonitor()
	overall := m.Run(ctx,
		health.Probe{Name: "vram", Fn: func(context.Context) (health.Status, string) {
			if !a.cfg.EnableVRAM {
				return health.Degraded, "disabled by enable_vram"
			}
			return health.Healthy, "enabled"
		}},
		health.Probe{Name: "snapshot", Fn: func(context.Context) (health.Status, string) {
			snap, err := a.registry.Snapshot()
			if err != nil {
				return health.Unhealthy, err.Error()
			}
			if len(snap.Encoders) == 0 && len(snap.Decoders) == 0 {
				return health.Degraded, "snapshot is empty, run vramctl probe"
			}
			return health.Healthy, fmt.Sprintf("%d encoders, %d decoders", len(snap.Encoders), len(snap.Decoders))
		}},
		health.Probe{Name: "ffmpeg", Fn: func(ctx context.Context) (health.Status, string) {
			l, err := a.sidecar.Inspect(ctx)
			if err != nil {
				return health.Unhealthy, err.Error()
			}
			names := l.VendorEncoders()
			if len(names) == 0 {
				return health.Degraded, "no hardware encoders in this build"
			}
			return health.Healthy, strings.Join(names, ", ")
		}},
		health.Probe{Name: "fallback", Fn: func(context.Context) (health.Status, string) {
			blob, err := a.store.LoadRAM()
			if err != nil {
				return health.Unhealthy, err.Error()
			}
			if blob == "" {
				return health.Degraded, "not probed yet"
			}
			fb, err := ffmpeg.UnmarshalFallback(blob)
			if err != nil {
				return health.Unhealthy, err.Error()
			}
			if len(fb.Formats) == 0 {
				return health.Degraded, "no system-memory hardware encoder"
			}
			return health.Healthy, formatList(fb.Formats)
		}},
		health.Probe{Name: "displays", Fn: func(context.Context) (health.Status, string) {
			displays, err := display.Lister{Source: a.adapters}.ListDisplays()
			if err != nil {
				return health.Unhealthy, err.Error()
			}
			if len(displays) == 0 {
				return health.Degraded, "no displays, encoder coverage checks will fail"
			}
			return health.Healthy, fmt.Sprintf("%d displays", len(displays))
		}},
	)

	if jsonOutput {
		summary := m.Summary()
		summary["checks"] = m.All()
		return a.printJSON(summary)
	}
	fmt.Fprintf(a.out, "Status: %s\n", overall)
	for _, c := range m.All() {
		fmt.Fprintf(a.out, "  %-9s %-9s %s\n", c.Name, c.Status, c.Message)
	}
	snapCheck, _ := m.Get("snapshot")
	fbCheck, _ := m.Get("fallback")
	if snapCheck.Status != health.Healthy || fbCheck.Status != health.Healthy {
		fmt.Fprintln(a.out, "Run vramctl probe to refresh the capability snapshots.")
	}
	return nil
}

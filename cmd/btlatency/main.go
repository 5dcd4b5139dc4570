// Command btlatency measures the end-to-end audio latency of a Bluetooth
// link served by BlueALSA.
//
// On a sink PCM it plays a noise signal carrying a 100 ms marker burst just
// before every interval boundary. On a source PCM it listens for those
// bursts and prints one CSV row per burst to stdout:
//
//	time,expected,latency,duration
//
// Run the sink side on one host and the source side on the other, with
// synchronised clocks. Diagnostics go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/btlatency/internal/app"
	"github.com/MrWong99/btlatency/internal/config"
	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&options{})
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("btlatency failed", "err", err)
		return 1
	}
	return 0
}

// options holds the command line flags shared by all commands.
type options struct {
	configPath  string
	dbus        string
	interval    float64
	timeout     float64
	logLevel    string
	metricsAddr string
	openDelay   time.Duration

	// loopback only
	format   string
	channels int
	rate     int
	codec    string
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "btlatency [flags] PCM_PATH",
		Short: "Measure Bluetooth end-to-end audio latency through BlueALSA",
		Long: `btlatency writes a marker signal to a BlueALSA sink PCM, or reads it from a
source PCM and reports the latency of every marker burst as CSV on stdout.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Probe.PCM = args[0]
			}
			if cfg.Probe.PCM == "" {
				return errors.New("PCM_PATH is required")
			}
			return session(cmd.Context(), cfg, level, opts, func(a *app.App) func(context.Context) error { return a.Run })
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "optional YAML configuration file")
	pf.Float64VarP(&opts.interval, "interval", "i", config.DefaultInterval.Seconds(), "marker interval in seconds")
	pf.Float64VarP(&opts.timeout, "timeout", "t", config.DefaultTimeout.Seconds(), "session timeout in seconds; 0 runs until interrupted")
	pf.StringVar(&opts.logLevel, "log-level", string(config.LogInfo), "log level: debug, info, warn or error")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /readyz on this address")

	f := root.Flags()
	f.StringVarP(&opts.dbus, "dbus", "B", "", "BlueALSA D-Bus service name suffix")
	f.DurationVar(&opts.openDelay, "open-delay", config.DefaultOpenDelay, "wait after opening the PCM")

	root.AddCommand(newLoopbackCmd(opts))
	return root
}

func newLoopbackCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Measure an in-process loopback path without a Bluetooth device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, level, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			return session(cmd.Context(), cfg, level, opts, func(a *app.App) func(context.Context) error { return a.RunLoopback })
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", pcm.S16LE.String(), "PCM format: U8, S16_LE, S24_LE or S32_LE")
	f.IntVar(&opts.channels, "channels", config.DefaultChannels, "number of channels")
	f.IntVar(&opts.rate, "rate", config.DefaultRate, "sample rate in Hz")
	f.StringVar(&opts.codec, "codec", string(config.CodecPCM), "transport codec: pcm or opus")
	return cmd
}

// setup resolves the configuration and installs the default logger.
func setup(cmd *cobra.Command, opts *options) (*config.Config, *slog.LevelVar, error) {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	level := &slog.LevelVar{}
	level.Set(app.Level(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, level, nil
}

// session initialises telemetry and runs one session of the app.
func session(ctx context.Context, cfg *config.Config, level *slog.LevelVar, opts *options, pick func(*app.App) func(context.Context) error) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	appOpts := []app.Option{app.WithLevel(level), app.WithMetrics(metrics)}
	if opts.configPath != "" {
		appOpts = append(appOpts, app.WithConfigWatch(opts.configPath))
	}
	deadline, ok := cfg.Probe.Deadline()
	slog.Info("btlatency starting",
		"version", version,
		"pcm", cfg.Probe.PCM,
		"interval", cfg.Probe.Interval,
		"timeout", deadline,
		"timeout_enabled", ok,
		"metrics_addr", cfg.Server.MetricsAddr,
	)
	return pick(app.New(cfg, appOpts...))(ctx)
}

// resolveConfig loads the optional config file and overlays every flag set
// on the command line.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("interval") {
		cfg.Probe.Interval = seconds(opts.interval)
	}
	if changed("timeout") {
		cfg.Probe.Timeout = seconds(opts.timeout)
		if cfg.Probe.Timeout == 0 {
			cfg.Probe.Timeout = -1
		}
	}
	if changed("log-level") {
		cfg.Server.LogLevel = config.LogLevel(opts.logLevel)
	}
	if changed("metrics-addr") {
		cfg.Server.MetricsAddr = opts.metricsAddr
	}
	if changed("dbus") {
		cfg.BlueALSA.Service = opts.dbus
	}
	if changed("open-delay") {
		cfg.BlueALSA.OpenDelay = opts.openDelay
	}
	if changed("format") {
		f, err := pcm.ParseFormat(opts.format)
		if err != nil {
			return nil, err
		}
		cfg.Loopback.Format = f
	}
	if changed("channels") {
		cfg.Loopback.Channels = opts.channels
	}
	if changed("rate") {
		cfg.Loopback.Rate = opts.rate
	}
	if changed("codec") {
		cfg.Loopback.Codec = config.LoopbackCodec(opts.codec)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ABOUTME: The run command
// ABOUTME: Applies flag overrides to the config and runs the pass-through app
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/playthrough/internal/app"
	"github.com/Resonate-Protocol/playthrough/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type runOptions struct {
	input         string
	output        string
	backend       string
	inputBackend  string
	outputBackend string
	rate          int
	channels      int
	bits          int
	float         bool
	frames        int
	margin        int
	fill          string
	name          string
	monitorPort   int
	noMonitor     bool
	noMDNS        bool
	noTUI         bool
	logFile       string
	skewPPM       float64
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start passing audio through",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			closeLog, err := setupLogging(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runApp(ctx, cfg)
		},
	}

	opts.bind(cmd.Flags())

	return cmd
}

func (o *runOptions) bind(f *pflag.FlagSet) {
	f.StringVarP(&o.input, "input", "i", "", "Input device id (default: system default)")
	f.StringVarP(&o.output, "output", "o", "", "Output device id (default: system default)")
	f.StringVarP(&o.backend, "backend", "b", "", "Backend for both devices")
	f.StringVar(&o.inputBackend, "input-backend", "", "Backend for the input device")
	f.StringVar(&o.outputBackend, "output-backend", "", "Backend for the output device")
	f.IntVar(&o.rate, "rate", 0, "Sample rate in Hz")
	f.IntVar(&o.channels, "channels", 0, "Channel count")
	f.IntVar(&o.bits, "bits", 0, "Bits per sample")
	f.BoolVar(&o.float, "float", false, "Use floating point samples")
	f.IntVar(&o.frames, "frames", 0, "Frames per device buffer")
	f.IntVar(&o.margin, "margin", 0, "Safety margin in frames (default: one device buffer)")
	f.StringVar(&o.fill, "fill", "", "Fill for missing frames: silence or repeat")
	f.StringVar(&o.name, "name", "", "Name advertised by the monitor (default: hostname-playthrough)")
	f.IntVar(&o.monitorPort, "monitor-port", 0, "Monitor HTTP/websocket port")
	f.BoolVar(&o.noMonitor, "no-monitor", false, "Disable the monitor endpoint")
	f.BoolVar(&o.noMDNS, "no-mdns", false, "Disable mDNS advertisement")
	f.BoolVar(&o.noTUI, "no-tui", false, "Disable TUI, use streaming logs instead")
	f.StringVar(&o.logFile, "log-file", "", "Log file path")
	f.Float64Var(&o.skewPPM, "sim-skew", 0, "Simulated output clock skew in ppm")
}

// apply overrides config values with the flags that were set
func (o *runOptions) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := flags.Changed

	if set("backend") {
		cfg.Input.Backend = o.backend
		cfg.Output.Backend = o.backend
	}
	if set("input-backend") {
		cfg.Input.Backend = o.inputBackend
	}
	if set("output-backend") {
		cfg.Output.Backend = o.outputBackend
	}
	if set("input") {
		cfg.Input.Device = o.input
	}
	if set("output") {
		cfg.Output.Device = o.output
	}
	if set("rate") {
		cfg.Format.SampleRate = o.rate
	}
	if set("channels") {
		cfg.Format.Channels = o.channels
	}
	if set("bits") {
		cfg.Format.BitDepth = o.bits
	}
	if set("float") {
		cfg.Format.Float = o.float
	}
	if set("frames") {
		cfg.Buffer.FramesPerBuffer = o.frames
	}
	if set("margin") {
		cfg.Buffer.SafetyMargin = o.margin
	}
	if set("fill") {
		cfg.FillMode = o.fill
	}
	if set("name") {
		cfg.Monitor.Name = o.name
	} else if cfg.Monitor.Name == "" {
		cfg.Monitor.Name = defaultName()
	}
	if set("monitor-port") {
		cfg.Monitor.Port = o.monitorPort
	}
	if set("no-monitor") {
		cfg.Monitor.Enabled = !o.noMonitor
	}
	if set("no-mdns") {
		cfg.Monitor.MDNS = !o.noMDNS
	}
	if set("no-tui") {
		cfg.NoTUI = o.noTUI
	}
	if set("log-file") {
		cfg.LogFile = o.logFile
	}
	if set("sim-skew") {
		cfg.Sim.SkewPPM = o.skewPPM
	}
}

func defaultName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-playthrough", hostname)
}

// setupLogging sends logs to the log file, and to stdout when no TUI is drawn
func setupLogging(cfg *config.Config, stdout io.Writer) (func(), error) {
	if cfg.LogFile == "" {
		if cfg.NoTUI {
			log.SetOutput(stdout)
		} else {
			log.SetOutput(io.Discard)
		}
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if cfg.NoTUI {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(stdout, f))
		log.Printf("Logging to: %s", cfg.LogFile)
	} else {
		// TUI mode: log only to file
		log.SetOutput(f)
	}

	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}

func runApp(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if cfg.NoTUI {
		log.Printf("Press Ctrl-C to stop")
	}
	return a.Run(ctx)
}

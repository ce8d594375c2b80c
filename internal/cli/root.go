// ABOUTME: Command line interface root
// ABOUTME: Builds the command tree and loads the shared configuration
package cli

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/playthrough/internal/config"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command
type rootOptions struct {
	configFile string
}

// NewRootCommand builds the playthrough command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "playthrough",
		Short: "Pass live audio from a capture device to a render device",
		Long: `playthrough - low latency audio pass-through between two devices.

Captured audio is stored in a time-indexed ring buffer and played back a
fixed safety margin behind the capture clock. The two device clocks are
aligned once, when both have delivered their first buffer.

Backends:
  malgo  system capture and playback devices
  oto    system default playback device (output only)
  sim    simulated devices (tone, ramp, silence, mp3:<file>)

Examples:
  # Pass the default microphone to the default speakers
  playthrough run

  # Run against simulated devices without audio hardware
  playthrough run --backend sim --input ramp --no-tui

  # Watch a running session on the local network
  playthrough watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file")

	root.AddCommand(
		newRunCommand(opts),
		newDevicesCommand(),
		newWatchCommand(),
		newVersionCommand(),
	)
	return root
}

// loadConfig returns the config file contents, or defaults when none is given
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(o.configFile)
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

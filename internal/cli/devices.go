// ABOUTME: The devices command
// ABOUTME: Lists capture and render devices for each audio backend
package cli

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/device"
	"github.com/spf13/cobra"
)

func newDevicesCommand() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backends := device.Backends()
			if backend != "" {
				backends = []string{backend}
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, name := range backends {
				if err := listDevices(out, name); err != nil {
					fmt.Fprintf(out, "%s: %v\n\n", name, err)
					failed++
				}
			}
			if failed == len(backends) {
				return fmt.Errorf("no backend could be opened")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "", "Only list this backend")
	return cmd
}

func listDevices(w io.Writer, backend string) error {
	p, err := device.Open(backend)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintf(w, "%s:\n", p.Name())
	for _, dir := range []audio.Direction{audio.Input, audio.Output} {
		infos, err := p.Devices(dir)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", dir, err)
		}
		for _, info := range infos {
			def := ""
			if info.IsDefault {
				def = " (default)"
			}
			fmt.Fprintf(w, "  %-6s %-24s %s%s\n", dir, info.ID, info.Name, def)
		}
	}
	fmt.Fprintln(w)
	return nil
}

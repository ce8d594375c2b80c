// ABOUTME: The watch command
// ABOUTME: Finds a running session's monitor and prints its statistics
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/discovery"
	"github.com/Resonate-Protocol/playthrough/internal/monitor"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	addr    string
	timeout time.Duration
	once    bool
}

func newWatchCommand() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print statistics from a running session",
		Long: `Print statistics from a running session.

Without --addr the first session found over mDNS is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.addr, "addr", "a", "", "Monitor address host:port (skip mDNS)")
	f.DurationVar(&opts.timeout, "timeout", 3*time.Second, "mDNS lookup timeout")
	f.BoolVar(&opts.once, "once", false, "Print one snapshot as JSON and exit")

	return cmd
}

func (o *watchOptions) run(ctx context.Context, w io.Writer) error {
	addr, path := o.addr, "/ws"
	if addr == "" {
		found, err := discovery.Lookup(ctx, o.timeout)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no session found on the local network")
		}
		addr, path = found[0].Addr(), found[0].Path
		fmt.Fprintf(w, "Found %s at %s\n", found[0].Name, addr)
	}

	if o.once {
		snap, err := monitor.FetchStats(ctx, addr)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	watcher, err := monitor.Dial(ctx, monitor.URL(addr, path))
	if err != nil {
		return err
	}
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-watcher.Snapshots():
			if !ok {
				return watcher.Err()
			}
			printSnapshot(w, snap)
		}
	}
}

func printSnapshot(w io.Writer, snap monitor.Snapshot) {
	s := snap.Stats
	if !s.OffsetComputed {
		fmt.Fprintf(w, "%s %-8s waiting for clocks (in=%d out=%d)\n",
			snap.Time.Format("15:04:05"), s.State, s.CaptureBuffers, s.RenderBuffers)
		return
	}
	fmt.Fprintf(w, "%s %-8s offset=%.0f headroom=%d drift=%+d quality=%s underruns=%d overruns=%d\n",
		snap.Time.Format("15:04:05"), s.State, s.Offset, s.Headroom, s.Drift, s.Quality, s.Underruns, s.Overruns)
}

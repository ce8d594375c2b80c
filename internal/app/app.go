// ABOUTME: Pass-through application orchestration
// ABOUTME: Coordinates devices, the controller, the monitor server and the UI
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/config"
	"github.com/Resonate-Protocol/playthrough/internal/monitor"
	"github.com/Resonate-Protocol/playthrough/internal/ui"
	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/device"
	"github.com/Resonate-Protocol/playthrough/pkg/playthrough"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

const (
	uiRefresh   = 250 * time.Millisecond
	logInterval = 5 * time.Second
)

// App represents the pass-through application
type App struct {
	config  *config.Config
	inputs  device.Provider
	outputs device.Provider
	pt      *playthrough.PlayThrough
	monitor *monitor.Server
	control *ui.Control
	tuiProg *tea.Program

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates the application and opens the configured audio backends
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{config: cfg, stop: make(chan struct{})}

	var err error
	a.inputs, err = openProvider(cfg, cfg.Input.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open input backend: %w", err)
	}
	if cfg.Output.Backend == cfg.Input.Backend {
		a.outputs = a.inputs
	} else {
		a.outputs, err = openProvider(cfg, cfg.Output.Backend)
		if err != nil {
			a.inputs.Close()
			return nil, fmt.Errorf("failed to open output backend: %w", err)
		}
	}

	ptConfig := cfg.PlayThroughConfig()
	ptConfig.Inputs = a.inputs
	ptConfig.Outputs = a.outputs
	ptConfig.OnStateChange = func(s playthrough.State) {
		log.Printf("Pass-through %s", s)
	}
	ptConfig.OnError = func(err error) {
		log.Printf("Pass-through error: %v", err)
	}

	a.pt, err = playthrough.NewPlayThrough(ptConfig)
	if err != nil {
		a.closeProviders()
		return nil, err
	}

	if cfg.Monitor.Enabled {
		a.monitor, err = monitor.New(monitor.Config{
			Name:       cfg.Monitor.Name,
			Port:       cfg.Monitor.Port,
			Interval:   cfg.Monitor.Interval,
			Source:     a.pt.Stats,
			EnableMDNS: cfg.Monitor.MDNS,
		})
		if err != nil {
			a.closeProviders()
			return nil, err
		}
	}

	if !cfg.NoTUI {
		a.control = ui.NewControl()
		a.tuiProg = ui.Run(a.control)
	}

	return a, nil
}

// openProvider opens a backend, passing simulator settings through
func openProvider(cfg *config.Config, backend string) (device.Provider, error) {
	if backend == "sim" {
		return device.NewSim(device.SimConfig{
			InputAnchor:  cfg.Sim.InputAnchor,
			OutputAnchor: cfg.Sim.OutputAnchor,
			SkewPPM:      cfg.Sim.SkewPPM,
			Loop:         cfg.Sim.Loop,
		}), nil
	}
	return device.Open(backend)
}

// PlayThrough returns the controller
func (a *App) PlayThrough() *playthrough.PlayThrough {
	return a.pt
}

// Run opens the devices, starts the pass-through and blocks until ctx is
// cancelled, Stop is called or the UI quits
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.shutdown()

	log.Printf("%s starting", version.String())

	if err := a.pt.Init(a.config.Input.Device, a.config.Output.Device); err != nil {
		return err
	}
	if err := a.pt.Start(); err != nil {
		return err
	}
	log.Printf("Passing %s -> %s", a.pt.InputDevice(), a.pt.OutputDevice())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-a.stop:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if a.monitor != nil {
		g.Go(func() error {
			return a.monitor.Run(gctx)
		})
	}

	g.Go(func() error {
		a.statusLoop(gctx)
		return nil
	})

	if a.tuiProg != nil {
		g.Go(func() error {
			a.handleControls(gctx, cancel)
			return nil
		})
		g.Go(func() error {
			_, err := a.tuiProg.Run()
			cancel()
			if err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.tuiProg.Quit()
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Stop makes Run return. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
}

// shutdown stops the pass-through and releases devices
func (a *App) shutdown() {
	stats := a.pt.Stats()
	if err := a.pt.Close(); err != nil {
		log.Printf("Error closing pass-through: %v", err)
	}
	a.closeProviders()

	log.Printf("Stopped: %d frames played, %d underruns, %d overruns",
		stats.RenderedFrames, stats.Underruns, stats.Overruns)
}

func (a *App) closeProviders() {
	if err := a.inputs.Close(); err != nil {
		log.Printf("Error closing %s backend: %v", a.inputs.Name(), err)
	}
	if a.outputs != a.inputs {
		if err := a.outputs.Close(); err != nil {
			log.Printf("Error closing %s backend: %v", a.outputs.Name(), err)
		}
	}
}

// statusLoop feeds the UI, or the log when no UI is running
func (a *App) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(uiRefresh)
	defer ticker.Stop()

	monitorAddr := ""
	if a.monitor != nil {
		monitorAddr = fmt.Sprintf("localhost:%d", a.config.Monitor.Port)
	}

	// offset logging waits for the first resolve of each run
	loggedRun := ""
	lastLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats := a.pt.Stats()

			if stats.OffsetComputed && stats.RunID != loggedRun {
				loggedRun = stats.RunID
				log.Printf("Clocks aligned: offset %.0f frames (first input %.0f, first output %.0f, margin %d)",
					stats.Offset, stats.FirstInputTime, stats.FirstOutputTime, stats.Margin)
			}

			if a.tuiProg != nil {
				a.tuiProg.Send(ui.StatusMsg{Stats: stats, Monitor: monitorAddr})
				continue
			}
			if now.Sub(lastLog) >= logInterval {
				lastLog = now
				logStats(stats)
			}
		}
	}
}

func logStats(s playthrough.Stats) {
	if !s.Running {
		return
	}
	log.Printf("Stats: in=%d out=%d headroom=%d drift=%+d quality=%s underruns=%d overruns=%d errors=%d",
		s.CaptureBuffers, s.RenderBuffers, s.Headroom, s.Drift, s.Quality,
		s.Underruns, s.Overruns, s.CaptureErrors+s.RenderErrors+s.StoreErrors)
}

// handleControls processes signals from the UI
func (a *App) handleControls(ctx context.Context, quit context.CancelFunc) {
	for {
		select {
		case <-a.control.Toggle:
			if err := a.toggle(); err != nil {
				log.Printf("Toggle failed: %v", err)
			}
		case <-a.control.Quit:
			quit()
			return
		case <-ctx.Done():
			return
		}
	}
}

// toggle starts a stopped pass-through or stops a running one
func (a *App) toggle() error {
	if a.pt.IsRunning() {
		return a.pt.Stop()
	}
	return a.pt.Start()
}

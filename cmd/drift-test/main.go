// ABOUTME: Test app to measure how long a session survives clock skew
// ABOUTME: Runs simulated devices with skewed clocks and reports headroom drift
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/device"
	"github.com/Resonate-Protocol/playthrough/pkg/playthrough"
)

var (
	skewPPM   = flag.Float64("skew", 500, "Output clock skew in ppm")
	frames    = flag.Int("frames", 256, "Frames per buffer")
	multiple  = flag.Int("capacity", 8, "Ring capacity in device buffers")
	duration  = flag.Duration("duration", 10*time.Second, "How long to run")
	inAnchor  = flag.Float64("input-anchor", 0, "Input clock start time")
	outAnchor = flag.Float64("output-anchor", 0, "Output clock start time")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	fmt.Println("=== Clock Drift Test App ===")
	fmt.Println("This test will:")
	fmt.Println("1. Start simulated capture and render clocks")
	fmt.Printf("2. Run the render clock %+.0f ppm off nominal\n", *skewPPM)
	fmt.Println("3. Report headroom until the margin is used up")
	fmt.Println()

	sim := device.NewSim(device.SimConfig{
		InputAnchor:  *inAnchor,
		OutputAnchor: *outAnchor,
		SkewPPM:      *skewPPM,
	})
	defer sim.Close()

	pt, err := playthrough.NewPlayThrough(playthrough.Config{
		Inputs:           sim,
		Outputs:          sim,
		Format:           audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
		FramesPerBuffer:  *frames,
		CapacityMultiple: *multiple,
	})
	if err != nil {
		log.Fatalf("Setup error: %v", err)
	}
	defer pt.Close()

	if err := pt.Init("ramp", "null"); err != nil {
		log.Fatalf("Init error: %v", err)
	}
	if err := pt.Start(); err != nil {
		log.Fatalf("Start error: %v", err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(*duration)

	var lostAt time.Duration
	start := time.Now()
	for {
		select {
		case <-ticker.C:
			s := pt.Stats()
			log.Printf("headroom=%5d drift=%+5d quality=%-8s underruns=%d overruns=%d",
				s.Headroom, s.Drift, s.Quality, s.Underruns, s.Overruns)
			if lostAt == 0 && s.Underruns+s.Overruns > 0 {
				lostAt = time.Since(start)
				log.Printf("First glitch after %v", lostAt.Round(time.Millisecond))
			}
			continue
		case <-deadline:
		}
		break
	}

	if err := pt.Stop(); err != nil {
		log.Printf("Stop error: %v", err)
	}

	if lostAt > 0 {
		log.Printf("Test failed: session glitched after %v", lostAt.Round(time.Millisecond))
		os.Exit(1)
	}
	log.Printf("Test complete: no glitches in %v", *duration)
}

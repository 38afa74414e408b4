// Command flight-sim synthesises a balloon flight as framed modem bytes, for
// exercising the ground station without a radio. Output goes to stdout, a
// UDP address (raptorhab -udp) or a pcap file (raptorhab -pcap).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/raptorhab/internal/network"
	"github.com/banshee-data/raptorhab/internal/sim"
)

var (
	pcapOut   = flag.String("pcap", "", "Write a pcap capture to this file")
	udpOut    = flag.String("udp", "", "Send frames as UDP datagrams to this address")
	pcapPort  = flag.Int("port", 5555, "Destination UDP port recorded in the pcap")
	speed     = flag.Float64("speed", 1, "Real-time pacing multiplier for stdout and UDP (0 for as fast as possible)")
	burst     = flag.Float64("burst", 3000, "Burst altitude in metres")
	ascent    = flag.Float64("ascent", 5, "Ascent rate in m/s")
	windSpeed = flag.Float64("wind-speed", 10, "Wind speed in m/s")
	windFrom  = flag.Float64("wind-from", 270, "Direction the wind blows from, degrees")
	lat       = flag.Float64("lat", 52.2053, "Launch latitude")
	lon       = flag.Float64("lon", 0.1218, "Launch longitude")
	images    = flag.Int("images", 30, "Send an image every n telemetry packets (0 disables)")
	imageSize = flag.Int("image-size", 1500, "Image size in bytes")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := profileFromFlags()
	var err error
	switch {
	case *pcapOut != "" && *udpOut != "":
		err = errors.New("choose one of -pcap and -udp")
	case *pcapOut != "":
		err = writePCAPFile(*pcapOut, p, *pcapPort)
	case *udpOut != "":
		err = sendUDP(ctx, *udpOut, p, *speed)
	default:
		err = stream(ctx, os.Stdout, p, *speed)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func profileFromFlags() sim.Profile {
	p := sim.DefaultProfile()
	p.Start = time.Now().UTC().Truncate(time.Second)
	p.BurstAltitude = *burst
	p.AscentRate = *ascent
	p.WindSpeed = *windSpeed
	p.WindFrom = *windFrom
	p.Latitude = *lat
	p.Longitude = *lon
	p.ImageEvery = *images
	p.ImageSize = *imageSize
	return p
}

// play calls emit for every tick, sleeping Interval/speed between ticks.
func play(ctx context.Context, p sim.Profile, speed float64, emit func(sim.Tick, []byte) error) (int, error) {
	f := sim.NewFlight(p)
	var n int
	var burstSeen bool
	for {
		tk, ok := f.Next()
		if !ok {
			return n, nil
		}
		if err := emit(tk, f.Encode(tk)); err != nil {
			return n, err
		}
		n++
		if tk.Burst && !burstSeen {
			burstSeen = true
			log.Printf("burst at %.0fm", tk.Telemetry.Altitude)
		}
		if speed <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-time.After(time.Duration(float64(p.Interval) / speed)):
		}
	}
}

func stream(ctx context.Context, w io.Writer, p sim.Profile, speed float64) error {
	n, err := play(ctx, p, speed, func(_ sim.Tick, b []byte) error {
		_, err := w.Write(b)
		return err
	})
	log.Printf("wrote %d intervals", n)
	return err
}

func sendUDP(ctx context.Context, addr string, p sim.Profile, speed float64) error {
	fwd, err := network.NewForwarder(addr, time.Minute)
	if err != nil {
		return err
	}
	defer fwd.Close()
	n, err := play(ctx, p, speed, func(_ sim.Tick, b []byte) error { return fwd.Send(b) })
	log.Printf("sent %d intervals to %s", n, addr)
	return err
}

// writePCAP records the flight at its simulated timestamps; replay paces it.
func writePCAP(w io.Writer, p sim.Profile, port int) (int, error) {
	pw, err := network.NewPCAPWriter(w, port)
	if err != nil {
		return 0, err
	}
	return play(context.Background(), p, 0, func(tk sim.Tick, b []byte) error { return pw.Write(tk.Time, b) })
}

func writePCAPFile(path string, p sim.Profile, port int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pcap: %w", err)
	}
	n, err := writePCAP(f, p, port)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Printf("✓ Created: %s (%d intervals)", path, n)
	return nil
}

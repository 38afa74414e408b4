// Command raptorhab is the balloon ground station: it decodes the modem byte
// stream, records the flight and serves live state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/raptorhab/internal/config"
	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/sim"
	"github.com/banshee-data/raptorhab/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to a JSON or YAML config file (built-in defaults when empty)")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config)")
	healthListen = flag.String("health-listen", "", "gRPC health listen address (overrides config)")
	port         = flag.String("port", "", "Modem serial port (overrides config)")
	dbPath       = flag.String("db", "", "Flight recorder database path (overrides config)")
	noDB         = flag.Bool("no-db", false, "Do not record flights")
	imageDir     = flag.String("images", "", "Directory for completed images (overrides config)")
	udpAddr      = flag.String("udp", "", "Receive modem bytes over UDP on this address instead of the serial port")
	pcapFile     = flag.String("pcap", "", "Replay modem bytes from a pcap capture instead of the serial port")
	pcapPort     = flag.Int("pcap-port", 0, "Only replay UDP datagrams on this port (0 for all)")
	pcapSpeed    = flag.Float64("pcap-speed", 1, "Replay speed multiplier (0 for as fast as possible)")
	mock         = flag.Bool("mock", false, "Feed a simulated flight instead of the serial port")
	mockBurst    = flag.Float64("mock-burst", 3000, "Burst altitude of the simulated flight in metres")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	applyFlagOverrides(cfg)
	opts, err := sourceOptions()
	if err != nil {
		log.Fatal(err)
	}
	opts.noDB = *noDB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func applyFlagOverrides(cfg *config.Config) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *healthListen != "" {
		cfg.HealthListen = healthListen
	}
	if *port != "" {
		cfg.Serial.Port = port
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if *imageDir != "" {
		cfg.Images.Dir = imageDir
	}
}

func sourceOptions() (stationOptions, error) {
	opts := stationOptions{source: sourceSerial}
	chosen := 0
	if *udpAddr != "" {
		opts.source, opts.udpAddr = sourceUDP, *udpAddr
		chosen++
	}
	if *pcapFile != "" {
		opts.source, opts.pcapFile = sourcePCAP, *pcapFile
		opts.pcapPort, opts.pcapSpeed = *pcapPort, *pcapSpeed
		chosen++
	}
	if *mock {
		p := sim.DefaultProfile()
		p.Start = time.Now().UTC()
		p.BurstAltitude = *mockBurst
		p.ImageEvery = 60
		opts.source, opts.mockProfile, opts.mockInterval = sourceMock, p, p.Interval
		chosen++
	}
	if chosen > 1 {
		return opts, errors.New("choose at most one of -udp, -pcap and -mock")
	}
	return opts, nil
}

func run(ctx context.Context, cfg *config.Config, opts stationOptions) error {
	st, err := newStation(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	// A server that cannot bind takes the whole station down with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log.Printf("%s starting flight %s", version.String(), st.session.FlightID())

	var wg sync.WaitGroup

	// The source is the only caller of Session.Feed.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := st.runSource(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("byte source stopped: %v", err)
		}
		log.Print("source routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		st.health.Run(ctx)
	}()
	if addr := cfg.GetHealthListen(); addr != "" {
		if err := st.health.Start(addr); err != nil {
			log.Printf("health service disabled: %v", err)
		} else {
			defer st.health.Stop()
		}
	}

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           st.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				cancel()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	return nil
}

// runMigrate handles "raptorhab migrate [-config file] [-db path] <action>".
func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "Path to a JSON or YAML config file")
	path := fs.String("db", "", "Database path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	target := cfg.GetDBPath()
	if *path != "" {
		target = *path
	}
	return db.RunMigrateCommand(fs.Args(), target, out)
}

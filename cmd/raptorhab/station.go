package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/raptorhab/internal/api"
	"github.com/banshee-data/raptorhab/internal/config"
	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/fsutil"
	"github.com/banshee-data/raptorhab/internal/health"
	"github.com/banshee-data/raptorhab/internal/httputil"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/network"
	"github.com/banshee-data/raptorhab/internal/serialmux"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/sim"
	"github.com/banshee-data/raptorhab/internal/timeutil"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// sourceKind selects where modem bytes come from.
type sourceKind int

const (
	sourceSerial sourceKind = iota
	sourceUDP
	sourcePCAP
	sourceMock
)

type stationOptions struct {
	source    sourceKind
	udpAddr   string
	pcapFile  string
	pcapPort  int
	pcapSpeed float64
	// mockProfile and mockInterval drive the simulated flight.
	mockProfile  sim.Profile
	mockInterval time.Duration
	noDB         bool
	clock        timeutil.Clock
}

// station wires a session to its byte source, recorder and servers.
type station struct {
	cfg      *config.Config
	opts     stationOptions
	session  *session.Session
	hub      *session.Hub
	db       *db.DB
	recorder *db.Recorder
	serial   serialmux.SerialMuxInterface
	udp      *network.Listener
	health   *health.Reporter
	api      *api.Server
}

// newWindCache builds the forecast cache. The source stamps profiles with
// the station clock so freshness checks agree with the cache.
func newWindCache(cfg *config.Config, clock timeutil.Clock, client httputil.HTTPClient) *wind.Cache {
	src := wind.NewOpenMeteoSource(client, cfg.GetWindProviderURL())
	src.Now = clock.Now
	return wind.NewCache(src, clock,
		wind.WithMaxAge(cfg.GetWindMaxAge()),
		wind.WithRetryInterval(cfg.GetWindRetryInterval()),
		wind.WithFetchTimeout(cfg.GetWindFetchTimeout()),
	)
}

func newStation(ctx context.Context, cfg *config.Config, opts stationOptions) (*station, error) {
	if opts.clock == nil {
		opts.clock = timeutil.RealClock{}
	}
	st := &station{cfg: cfg, opts: opts, hub: session.NewHub(256)}

	sessOpts := []session.Option{
		session.WithClock(opts.clock),
		session.WithContext(ctx),
		session.WithObserver(st.hub),
	}

	if cfg.GetWindEnabled() {
		client := httputil.NewStandardClient(cfg.GetWindFetchTimeout())
		sessOpts = append(sessOpts, session.WithWindCache(newWindCache(cfg, opts.clock, client)))
	}

	if !opts.noDB {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open flight recorder: %w", err)
		}
		st.db = database

		var archive *imaging.Archive
		if dir := cfg.GetImageDir(); dir != "" {
			archive = imaging.NewArchive(fsutil.OSFileSystem{}, dir)
		}
		st.recorder = db.NewRecorder(database, opts.clock, archive)
		sessOpts = append(sessOpts, session.WithObserver(st.recorder))
	}

	st.session = session.New(cfg.SessionConfig(), sessOpts...)
	if st.recorder != nil {
		if err := st.recorder.Begin(st.session.FlightID(), st.session.Stats().Started); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to record flight start: %w", err)
		}
	}

	if err := st.openSource(); err != nil {
		st.Close()
		return nil, err
	}

	st.health = health.NewReporter(st.session,
		health.WithClock(opts.clock),
		health.WithTimeout(cfg.GetInactivityTimeout()))

	apiOpts := []api.Option{api.WithInactivityTimeout(cfg.GetInactivityTimeout()), api.WithClock(opts.clock)}
	if st.db != nil {
		apiOpts = append(apiOpts, api.WithDB(st.db))
	}
	st.api = api.NewServer(st.session, st.hub, apiOpts...)
	return st, nil
}

func (st *station) openSource() error {
	switch st.opts.source {
	case sourceSerial:
		mux, err := serialmux.NewRealSerialMux(st.cfg.GetSerialPort(), st.cfg.PortOptions())
		if err != nil {
			return fmt.Errorf("failed to open modem: %w", err)
		}
		st.serial = mux
	case sourceMock:
		f := sim.NewFlight(st.opts.mockProfile)
		next := func() ([]byte, bool) {
			tk, ok := f.Next()
			if !ok {
				return nil, false
			}
			return f.Encode(tk), true
		}
		st.serial = serialmux.NewMockSerialMux(next, st.opts.mockInterval)
	case sourceUDP:
		st.serial = serialmux.NewDisabledSerialMux()
		st.udp = network.NewListener(network.ListenerConfig{Address: st.opts.udpAddr, Sink: st.session.Feed})
	case sourcePCAP:
		st.serial = serialmux.NewDisabledSerialMux()
	}
	st.serial.SetSink(st.session.Feed)
	return nil
}

// runSource feeds the session until ctx is done. Only one goroutine ever
// calls Feed.
func (st *station) runSource(ctx context.Context) error {
	switch st.opts.source {
	case sourceUDP:
		return st.udp.Start(ctx)
	case sourcePCAP:
		f, err := os.Open(st.opts.pcapFile)
		if err != nil {
			return fmt.Errorf("failed to open pcap: %w", err)
		}
		defer f.Close()
		return network.ReadPCAP(ctx, f, network.ReplayConfig{
			Port:  st.opts.pcapPort,
			Speed: st.opts.pcapSpeed,
			Sink:  st.session.Feed,
		})
	default:
		if err := st.serial.Initialise(st.cfg.ModemSettings()); err != nil {
			return fmt.Errorf("failed to configure modem: %w", err)
		}
		return st.serial.Monitor(ctx)
	}
}

// Handler returns the HTTP API with the debug routes of every component.
func (st *station) Handler() http.Handler {
	mux := st.api.ServeMux()
	st.serial.AttachAdminRoutes(mux)
	if st.db != nil {
		st.db.AttachAdminRoutes(mux)
	}
	return api.LoggingMiddleware(mux)
}

func (st *station) Close() {
	if st.session != nil {
		st.session.Close()
	}
	if st.serial != nil {
		st.serial.Close()
	}
	st.hub.Close()
	if st.db != nil {
		if err := st.db.EndFlight(st.session.FlightID(), st.opts.clock.Now()); err != nil {
			monitoring.Logf("failed to record flight end: %v", err)
		}
		st.db.Close()
	}
}

// Package health exposes receive activity through the standard gRPC health
// service so supervisors can tell when the link has gone quiet.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

// Service is the service name reported alongside the overall ("") status.
const Service = "raptorhab.GroundStation"

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = time.Second
)

// ActivitySource reports whether a valid packet arrived within timeout.
type ActivitySource interface {
	Active(timeout time.Duration) bool
}

// Reporter keeps a grpc health.Server in step with an ActivitySource.
type Reporter struct {
	source   ActivitySource
	clock    timeutil.Clock
	timeout  time.Duration
	interval time.Duration

	health *health.Server

	mu       sync.Mutex
	status   healthpb.HealthCheckResponse_ServingStatus
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

func WithClock(c timeutil.Clock) Option       { return func(r *Reporter) { r.clock = c } }
func WithTimeout(d time.Duration) Option      { return func(r *Reporter) { r.timeout = d } }
func WithPollInterval(d time.Duration) Option { return func(r *Reporter) { r.interval = d } }

// NewReporter returns a reporter that starts NOT_SERVING until the first
// check sees activity.
func NewReporter(src ActivitySource, opts ...Option) *Reporter {
	r := &Reporter{
		source:   src,
		clock:    timeutil.RealClock{},
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		health:   health.NewServer(),
		status:   healthpb.HealthCheckResponse_NOT_SERVING,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// HealthServer returns the underlying service, for registration on an
// existing grpc.Server.
func (r *Reporter) HealthServer() *health.Server { return r.health }

func (r *Reporter) set(st healthpb.HealthCheckResponse_ServingStatus) {
	r.health.SetServingStatus("", st)
	r.health.SetServingStatus(Service, st)
}

// Check samples the source once and publishes the result. Transitions are
// logged.
func (r *Reporter) Check() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if r.source.Active(r.timeout) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	r.mu.Lock()
	changed := st != r.status
	r.status = st
	r.mu.Unlock()
	if changed {
		monitoring.Logf("[health] link %s", st)
	}
	r.set(st)
	return st
}

// Status returns the last published status.
func (r *Reporter) Status() healthpb.HealthCheckResponse_ServingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run checks the source every poll interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	r.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Check()
		}
	}
}

// Start serves the health service on addr in the background.
func (r *Reporter) Start(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	r.listener = lis
	r.server = grpc.NewServer()
	healthpb.RegisterHealthServer(r.server, r.health)

	srv := r.server
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		monitoring.Logf("[health] gRPC health service listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (r *Reporter) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (r *Reporter) Stop() {
	r.health.Shutdown()
	r.mu.Lock()
	srv := r.server
	r.server = nil
	r.listener = nil
	r.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	r.wg.Wait()
}

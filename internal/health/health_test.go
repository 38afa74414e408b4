package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/sim"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeSource struct{ active atomic.Bool }

func (f *fakeSource) Active(time.Duration) bool { return f.active.Load() }

func TestReporter_Check(t *testing.T) {
	src := &fakeSource{}
	r := NewReporter(src)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, r.Status())

	src.active.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, r.Check())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, r.Status())

	resp, err := r.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	src.active.Store(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, r.Check())
}

func TestReporter_FollowsSessionActivity(t *testing.T) {
	p := sim.DefaultProfile()
	clock := timeutil.NewMockClock(p.Start)
	s := session.New(session.DefaultConfig(), session.WithClock(clock))
	defer s.Close()

	r := NewReporter(s, WithClock(clock), WithTimeout(30*time.Second), WithPollInterval(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	f := sim.NewFlight(p)
	tk, _ := f.Next()
	s.Feed(f.Encode(tk))

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return r.Status() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, time.Millisecond)

	// No packets for longer than the timeout.
	require.Eventually(t, func() bool {
		clock.Advance(5 * time.Second)
		return r.Status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestReporter_ServesGRPC(t *testing.T) {
	src := &fakeSource{}
	src.active.Store(true)
	r := NewReporter(src)
	require.NoError(t, r.Start("127.0.0.1:0"))
	defer r.Stop()
	assert.Error(t, r.Start("127.0.0.1:0"))
	r.Check()

	conn, err := grpc.NewClient(r.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	src.active.Store(false)
	r.Check()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

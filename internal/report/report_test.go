package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/fsutil"
	"github.com/banshee-data/raptorhab/internal/security"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/sim"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func simulatedFlight(t *testing.T) Flight {
	t.Helper()
	p := sim.DefaultProfile()
	p.BurstAltitude = 1500
	p.AscentRate = 10
	clock := timeutil.NewMockClock(p.Start)
	s := session.New(session.DefaultConfig(), session.WithClock(clock))
	t.Cleanup(s.Close)

	f := sim.NewFlight(p)
	for {
		tk, ok := f.Next()
		if !ok {
			break
		}
		clock.Set(tk.Time)
		s.Feed(f.Encode(tk))
	}

	out := Flight{ID: s.FlightID(), Samples: s.History()}
	if ev, ok := s.Burst(); ok {
		out.Burst = &ev
	}
	for _, pred := range s.Predictions() {
		out.Landings = append(out.Landings, LatLon{pred.Latitude, pred.Longitude})
	}
	return out
}

func TestSummarize(t *testing.T) {
	f := simulatedFlight(t)
	s := Summarize(f)

	assert.Equal(t, len(f.Samples), s.Samples)
	assert.True(t, s.Burst)
	assert.InDelta(t, 1500, s.MaxAltitude, 20)
	assert.InDelta(t, 10, s.MeanAscentRate, 1.5)
	assert.Greater(t, s.MeanDescentRate, 0.0)
	assert.Greater(t, s.GroundDistance, 1000.0)
	assert.Equal(t, f.Samples[len(f.Samples)-1].Timestamp.Sub(f.Samples[0].Timestamp), s.Duration)

	assert.Equal(t, Summary{}, Summarize(Flight{}))
}

func TestWriter_WriteAll(t *testing.T) {
	f := simulatedFlight(t)
	f.ID = "../launch 7"
	mfs := fsutil.NewMemoryFileSystem()
	w := NewWriter(mfs, "/reports")

	paths, err := w.WriteAll(f)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/reports/flight_launch_7_altitude.png",
		"/reports/flight_launch_7_vertical_speed.png",
		"/reports/flight_launch_7_track.png",
	}, paths)
	for _, p := range paths {
		data, err := mfs.ReadFile(p)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), p)
	}
}

func TestWriter_Errors(t *testing.T) {
	w := NewWriter(fsutil.NewMemoryFileSystem(), "/reports")
	_, err := w.Altitude(Flight{ID: "empty"})
	assert.Error(t, err)
	_, err = w.VerticalSpeed(Flight{ID: "empty"})
	assert.Error(t, err)

	// Telemetry without a fix has nothing to draw on a map.
	f := simulatedFlight(t)
	for i := range f.Samples {
		f.Samples[i].Satellites = 0
	}
	paths, err := w.WriteAll(f)
	assert.ErrorContains(t, err, "no position fixes")
	assert.Len(t, paths, 2)
}

func TestExportWriter(t *testing.T) {
	samples := simulatedFlight(t).Samples[:20]
	f := Flight{
		ID:      "x",
		Samples: samples,
		Burst:   &flight.BurstEvent{Time: samples[10].Timestamp, Altitude: samples[10].Altitude},
	}

	dir := filepath.Join(t.TempDir(), "plots")
	paths, err := NewExportWriter(dir).WriteAll(f)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	data, err := fsutil.OSFileSystem{}.ReadFile(paths[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	_, err = NewExportWriter("/proc/raptorhab").Altitude(f)
	assert.ErrorIs(t, err, security.ErrPathEscape)
}

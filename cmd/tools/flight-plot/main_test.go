package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/report"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/sim"
	"github.com/banshee-data/raptorhab/internal/timeutil"
	"github.com/banshee-data/raptorhab/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

// recordFlight stores a simulated flight and returns its id.
func recordFlight(t *testing.T, database *db.DB) string {
	t.Helper()
	p := sim.DefaultProfile()
	p.BurstAltitude = 2000
	clock := timeutil.NewMockClock(p.Start)
	rec := db.NewRecorder(database, clock, nil)

	s := session.New(session.DefaultConfig(), session.WithClock(clock), session.WithObserver(rec))
	defer s.Close()
	require.NoError(t, rec.Begin(s.FlightID(), s.Stats().Started))

	f := sim.NewFlight(p)
	for {
		tk, ok := f.Next()
		if !ok {
			break
		}
		clock.Set(tk.Time)
		s.Feed(f.Encode(tk))
	}
	return s.FlightID()
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "flights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestLoadFlight(t *testing.T) {
	database := openDB(t)
	_, err := loadFlight(database, "")
	assert.ErrorContains(t, err, "no flights recorded")

	id := recordFlight(t, database)
	f, err := loadFlight(database, "")
	require.NoError(t, err)
	assert.Equal(t, id, f.ID)
	assert.NotEmpty(t, f.Samples)
	require.NotNil(t, f.Burst)
	assert.InDelta(t, 2000, f.Burst.MaxAltitude, 10)
	assert.NotEmpty(t, f.Landings)

	_, err = loadFlight(database, "nope")
	assert.ErrorContains(t, err, "has no telemetry")
}

func TestPlotAndSummary(t *testing.T) {
	database := openDB(t)
	id := recordFlight(t, database)
	f, err := loadFlight(database, id)
	require.NoError(t, err)

	paths, err := report.NewExportWriter(t.TempDir()).WriteAll(f)
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	var out bytes.Buffer
	printSummary(&out, id, report.Summarize(f), display{speed: units.MPS, altitude: units.Metres})
	assert.Contains(t, out.String(), id)
	assert.Regexp(t, `Burst detected\s+true`, out.String())
	assert.Contains(t, out.String(), " m/s")

	out.Reset()
	printSummary(&out, id, report.Summarize(f), display{speed: units.KMPH, altitude: units.Feet})
	assert.Contains(t, out.String(), " km/h")
	assert.Contains(t, out.String(), " ft")
}

func TestListFlights(t *testing.T) {
	database := openDB(t)
	id := recordFlight(t, database)

	var out bytes.Buffer
	require.NoError(t, listFlights(database, &out, display{tz: "UTC"}))
	assert.Contains(t, out.String(), "FLIGHT")
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "UTC")

	assert.Error(t, listFlights(database, &out, display{tz: "Nowhere/Special"}))
}

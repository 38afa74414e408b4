package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 6, 21, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n > 0
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	latest, err := LatestMigration(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(3), latest)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
	for _, table := range []string{"flights", "telemetry", "messages", "images", "bursts", "predictions"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp(MigrationsFS()))

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	assert.False(t, tableExists(t, db, "predictions"))
	assert.True(t, tableExists(t, db, "images"))

	require.NoError(t, db.MigrateTo(MigrationsFS(), 1))
	assert.False(t, tableExists(t, db, "images"))

	require.NoError(t, db.MigrateForce(MigrationsFS(), 1))
	require.NoError(t, db.MigrateUp(MigrationsFS()))
	assert.True(t, tableExists(t, db, "predictions"))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "3 version(s) behind")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "2"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Usage: raptorhab migrate")

	assert.Error(t, RunMigrateCommand(nil, path, io.Discard))
	assert.Error(t, RunMigrateCommand([]string{"version"}, path, io.Discard))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, io.Discard))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, io.Discard))
}

func TestFlights(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.StartFlight("a", t0, ""))
	require.NoError(t, db.StartFlight("a", t0.Add(time.Hour), ""), "restarting is ignored")
	require.NoError(t, db.EndFlight("a", t0.Add(2*time.Hour)))
	require.NoError(t, db.StartFlight("b", t0.Add(2*time.Hour), "a"))
	assert.ErrorIs(t, db.EndFlight("missing", t0), ErrNotFound)

	require.NoError(t, db.InsertTelemetry("b", telemetry.Sample{Timestamp: t0, Altitude: 10}))

	flights, err := db.Flights()
	require.NoError(t, err)
	require.Len(t, flights, 2)
	assert.Equal(t, Flight{ID: "b", Started: t0.Add(2 * time.Hour), PreviousID: "a", Telemetry: 1}, flights[0])
	assert.Equal(t, Flight{ID: "a", Started: t0, Ended: t0.Add(2 * time.Hour)}, flights[1])

	// Rows must reference a recorded flight.
	assert.Error(t, db.InsertTelemetry("ghost", telemetry.Sample{Timestamp: t0}))
}

func TestTelemetryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.StartFlight("f", t0, ""))

	var want []telemetry.Sample
	for i := 0; i < 5; i++ {
		s := telemetry.Sample{
			Timestamp: t0.Add(time.Duration(i) * time.Second), Sequence: uint16(i),
			RSSI: -92.5, SNR: 7.25, Latitude: 52.2, Longitude: 0.12, Altitude: 100 + float64(i)*5,
			Speed: 3, Heading: 90, Satellites: 9, FixType: protocol.Fix3D, GPSTime: 1782032400,
			BatteryMV: 3700, CPUTemp: 21.5, RadioTemp: 19, ImageID: 2, ImageProgress: 40,
			PayloadRSSI: -101, VerticalSpeed: 5,
		}
		want = append(want, s)
		require.NoError(t, db.InsertTelemetry("f", s))
	}

	got, err := db.Telemetry("f", 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = db.Telemetry("f", 2)
	require.NoError(t, err)
	assert.Equal(t, want[3:], got)

	got, err = db.Telemetry("other", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImagesMessagesBurstPredictions(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.StartFlight("f", t0, ""))

	img := &imaging.Image{
		ID:            4,
		Meta:          protocol.ImageMeta{ImageID: 4, TotalSize: 3, Width: 320, Height: 240, NumSourceSymbols: 1, SymbolSize: 200, CRC32: protocol.Checksum([]byte{1, 2, 3})},
		Data:          []byte{1, 2, 3},
		FirstReceived: t0,
		Completed:     t0.Add(time.Minute),
	}
	require.NoError(t, db.InsertImage("f", img))
	require.NoError(t, db.InsertImage("f", &imaging.Image{ID: 4, Data: []byte{9}, Completed: t0}), "duplicates are ignored")

	records, err := db.Images("f")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ImageRecord{FlightID: "f", Meta: img.Meta, FirstReceived: t0, Completed: t0.Add(time.Minute)}, records[0])

	data, err := db.ImageData("f", 4)
	require.NoError(t, err)
	assert.Equal(t, img.Data, data)
	_, err = db.ImageData("f", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.InsertMessage("f", session.Message{Time: t0, Sequence: 3, Text: "hello"}))
	require.NoError(t, db.InsertMessage("f", session.Message{Time: t0.Add(time.Second), Sequence: 4, Text: "café"}))
	msgs, err := db.Messages("f")
	require.NoError(t, err)
	assert.Equal(t, []session.Message{{Time: t0, Sequence: 3, Text: "hello"}, {Time: t0.Add(time.Second), Sequence: 4, Text: "café"}}, msgs)

	_, err = db.Burst("f")
	assert.ErrorIs(t, err, ErrNotFound)
	ev := flight.BurstEvent{Time: t0.Add(time.Hour), Latitude: 52.3, Longitude: 0.4, Altitude: 29950, MaxAltitude: 30010}
	require.NoError(t, db.RecordBurst("f", ev))
	got, err := db.Burst("f")
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	p := &predict.Prediction{
		Latitude: 52.1, Longitude: 0.9, TimeToLanding: 1800, LandingTime: t0.Add(90 * time.Minute),
		DistanceToLanding: 41000, BearingToLanding: 95, Confidence: predict.ConfidenceHigh,
		DescentRate: 8, Phase: flight.Descending, WindSource: predict.WindProfile, Timestamp: t0.Add(time.Hour),
	}
	id, err := db.InsertPrediction("f", p)
	require.NoError(t, err)
	preds, err := db.Predictions("f")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, StoredPrediction{
		ID: id, Timestamp: p.Timestamp, Latitude: 52.1, Longitude: 0.9, LandingTime: p.LandingTime,
		TimeToLanding: 1800, DistanceToLanding: 41000, BearingToLanding: 95,
		Confidence: predict.ConfidenceHigh, DescentRate: 8, Phase: flight.Descending, WindSource: predict.WindProfile,
	}, preds[0])
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	at := time.Date(2026, 6, 21, 9, 30, 15, 250_000_000, time.UTC)
	assert.Equal(t, at, fromUnix(unixSeconds(at)))
	assert.True(t, fromUnix(unixSeconds(time.Time{})).IsZero())
}

func TestAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.StartFlight("f", t0, ""))
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "raptorhab-backup-")

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	backup, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(backup, []byte("SQLite format 3\x00")))

	req = httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOpenDBError(t *testing.T) {
	_, err := NewDB(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

package db

import (
	"time"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

// Recorder is a session observer that persists everything the session
// produces. Write failures are logged and never reach the session.
type Recorder struct {
	session.NopObserver

	db      *DB
	clock   timeutil.Clock
	archive *imaging.Archive
	sampler *monitoring.Sampler
}

// NewRecorder returns a recorder writing to db. archive may be nil to keep
// images in the database only.
func NewRecorder(db *DB, clock timeutil.Clock, archive *imaging.Archive) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, clock: clock, archive: archive, sampler: monitoring.NewSampler(100)}
}

// Begin records the flight the session starts with.
func (r *Recorder) Begin(flightID string, started time.Time) error {
	return r.db.StartFlight(flightID, started, "")
}

func (r *Recorder) check(kind string, err error) {
	if err != nil {
		r.sampler.Logf("recorder/"+kind, "recorder: %v", err)
	}
}

func (r *Recorder) OnTelemetry(flightID string, s telemetry.Sample) {
	r.check("telemetry", r.db.InsertTelemetry(flightID, s))
}

func (r *Recorder) OnImage(flightID string, img *imaging.Image) {
	r.check("image", r.db.InsertImage(flightID, img))
	if r.archive == nil {
		return
	}
	path, err := r.archive.Save(flightID, img)
	if err != nil {
		r.check("archive", err)
		return
	}
	monitoring.Logf("saved image %d to %s", img.ID, path)
}

func (r *Recorder) OnText(flightID string, m session.Message) {
	r.check("text", r.db.InsertMessage(flightID, m))
}

func (r *Recorder) OnBurst(flightID string, ev flight.BurstEvent) {
	r.check("burst", r.db.RecordBurst(flightID, ev))
}

func (r *Recorder) OnPrediction(flightID string, p *predict.Prediction) {
	_, err := r.db.InsertPrediction(flightID, p)
	r.check("prediction", err)
}

func (r *Recorder) OnReset(oldFlightID, newFlightID string) {
	now := r.clock.Now()
	r.check("flight", r.db.EndFlight(oldFlightID, now))
	r.check("flight", r.db.StartFlight(newFlightID, now, oldFlightID))
}

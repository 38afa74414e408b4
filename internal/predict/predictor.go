package predict

import (
	"math"
	"time"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// Confidence is a qualitative uncertainty band for a prediction.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// WindSource names where the simulated wind came from.
type WindSource string

const (
	WindProfile WindSource = "profile"
	WindAuto    WindSource = "auto"
	WindManual  WindSource = "manual"
)

// PathPoint is one step of the simulated trajectory.
type PathPoint struct {
	Offset    float64 `json:"t"` // seconds from the prediction time
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
}

// Prediction is a landing estimate.
type Prediction struct {
	Latitude          float64      `json:"latitude"`
	Longitude         float64      `json:"longitude"`
	TimeToLanding     float64      `json:"time_to_landing"` // seconds
	LandingTime       time.Time    `json:"landing_time"`
	DistanceToLanding float64      `json:"distance_to_landing"`
	BearingToLanding  float64      `json:"bearing_to_landing"`
	Confidence        Confidence   `json:"confidence"`
	DescentRate       float64      `json:"descent_rate"`
	Phase             flight.Phase `json:"phase"`
	VerticalSpeed     float64      `json:"vertical_speed"`
	UsedWindProfile   bool         `json:"used_wind_profile"`
	WindSource        WindSource   `json:"wind_source"`
	Truncated         bool         `json:"truncated,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`

	// Burst point, set when the prediction includes remaining ascent.
	BurstLatitude  float64 `json:"burst_latitude,omitempty"`
	BurstLongitude float64 `json:"burst_longitude,omitempty"`
	BurstAltitude  float64 `json:"burst_altitude,omitempty"`

	Path []PathPoint `json:"path,omitempty"`
}

// Wind is the wind model used by one simulation.
type Wind struct {
	Source    WindSource
	Profile   *wind.Profile
	Speed     float64
	Direction float64
}

// At returns the wind speed and from-direction at altitude.
func (w Wind) At(altitude float64) (float64, float64) {
	if w.Profile != nil {
		return w.Profile.At(altitude)
	}
	return w.Speed, w.Direction
}

// SelectWind picks the wind model in priority order: a profile younger than
// cfg.WindMaxAge, the drift estimate, then the manual fallback.
func SelectWind(cfg Config, profile *wind.Profile, now time.Time, drift *DriftEstimate) Wind {
	maxAge := cfg.WindMaxAge
	if maxAge <= 0 {
		maxAge = wind.MaxAge
	}
	if cfg.UseWindProfile && profile.ValidFor(now, maxAge) {
		return Wind{Source: WindProfile, Profile: profile}
	}
	if cfg.UseAutoWind && drift != nil {
		return Wind{Source: WindAuto, Speed: drift.Speed, Direction: drift.Direction}
	}
	return Wind{Source: WindManual, Speed: cfg.ManualWindSpeed, Direction: cfg.ManualWindFrom}
}

// descentRateAt blends between the at-burst and at-landing rates by the
// fraction of the burst altitude.
func (c Config) descentRateAt(altitude float64) float64 {
	f := min(1, max(0, altitude/c.BurstAltitude))
	return c.DescentRateAtLanding + f*(c.DescentRateAtBurst-c.DescentRateAtLanding)
}

type sim struct {
	cfg      Config
	wind     Wind
	step     float64
	lat, lon float64
	alt, t   float64
	path     []PathPoint
	capped   bool
}

func (s *sim) record() {
	if s.cfg.KeepPath {
		s.path = append(s.path, PathPoint{Offset: s.t, Latitude: s.lat, Longitude: s.lon, Altitude: s.alt})
	}
}

func (s *sim) advance(dt, alt float64) {
	s.alt = alt
	s.t += dt
	speed, dir := s.wind.At(alt)
	s.lat, s.lon = Drift(s.lat, s.lon, speed, dir, dt)
	s.record()
}

func (s *sim) remaining() float64 {
	r := s.cfg.MaxSeconds - s.t
	if r <= 0 {
		s.capped = true
	}
	return r
}

func (s *sim) ascend(top, rate float64) {
	rate = math.Max(rate, 0.1)
	for s.alt < top {
		left := s.remaining()
		if left <= 0 {
			return
		}
		dt := math.Min(s.step, left)
		next := s.alt + rate*dt
		if next >= top {
			dt = (top - s.alt) / rate
			next = top
		}
		s.advance(dt, next)
	}
}

func (s *sim) descend(target float64, rate func(alt float64) float64) {
	for s.alt > target {
		left := s.remaining()
		if left <= 0 {
			return
		}
		r := math.Max(rate(s.alt), 0.1)
		dt := math.Min(s.step, left)
		next := s.alt - r*dt
		if next <= target {
			dt = (s.alt - target) / r
			next = target
		}
		s.advance(dt, next)
	}
}

// Simulate predicts the landing of a payload last seen at from, given the
// current phase estimate. It returns false for phases without a prediction
// (PreLaunch, Landed).
func Simulate(cfg Config, from telemetry.Sample, est flight.Estimate, w Wind, now time.Time) (*Prediction, bool) {
	start := from.Altitude
	if est.Phase == flight.Floating {
		start = math.Max(start, cfg.BurstAltitude)
	}
	s := &sim{cfg: cfg, wind: w, step: cfg.step(), lat: from.Latitude, lon: from.Longitude, alt: start}
	s.record()

	pred := &Prediction{
		Phase:           est.Phase,
		VerticalSpeed:   est.VerticalSpeed,
		UsedWindProfile: w.Source == WindProfile,
		WindSource:      w.Source,
		Timestamp:       now,
	}

	switch est.Phase {
	case flight.Ascending:
		rate := est.VerticalSpeed
		if rate <= 0 {
			rate = cfg.AscentRate
		}
		s.ascend(cfg.BurstAltitude, rate)
		pred.BurstLatitude, pred.BurstLongitude, pred.BurstAltitude = s.lat, s.lon, s.alt
		pred.DescentRate = cfg.descentRateAt(s.alt)
		s.descend(cfg.TargetAltitude, cfg.descentRateAt)
		pred.Confidence = ConfidenceLow

	case flight.Descending:
		rate := cfg.DescentRateOverride
		if rate <= 0 {
			rate = math.Abs(est.VerticalSpeed)
		}
		pred.DescentRate = rate
		s.descend(cfg.TargetAltitude, func(float64) float64 { return rate })
		pred.Confidence = descentConfidence(from.Altitude)

	case flight.Floating:
		pred.DescentRate = cfg.descentRateAt(s.alt)
		s.descend(cfg.TargetAltitude, cfg.descentRateAt)
		pred.Confidence = ConfidenceVeryLow

	default:
		return nil, false
	}

	pred.Latitude, pred.Longitude = s.lat, s.lon
	pred.TimeToLanding = s.t
	pred.LandingTime = now.Add(time.Duration(s.t * float64(time.Second)))
	pred.DistanceToLanding = Haversine(from.Latitude, from.Longitude, s.lat, s.lon)
	pred.BearingToLanding = Bearing(from.Latitude, from.Longitude, s.lat, s.lon)
	pred.Truncated = s.capped
	pred.Path = s.path
	return pred, true
}

func descentConfidence(altitude float64) Confidence {
	switch {
	case altitude < 1000:
		return ConfidenceHigh
	case altitude < 5000:
		return ConfidenceMedium
	case altitude < 15000:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

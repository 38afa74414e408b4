package predict

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/wind"
)

const (
	lat0 = 52.2
	lon0 = 0.12
)

var now = time.Date(2026, 9, 12, 8, 0, 0, 0, time.UTC)

func TestGeo(t *testing.T) {
	assert.InDelta(t, 111194.93, Haversine(0, 0, 0, 1), 0.1)
	assert.Zero(t, Haversine(lat0, lon0, lat0, lon0))
	assert.InDelta(t, 0.0, Bearing(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 90.0, Bearing(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 270.0, Bearing(0, 0, 0, -1), 1e-9)

	lat, lon := Offset(0, 0, 0, MetresPerDegree)
	assert.InDelta(t, 1.0, lat, 1e-12)
	assert.Zero(t, lon)

	lat, lon = Offset(60, 10, MetresPerDegree, 0)
	assert.InDelta(t, 60.0, lat, 1e-12)
	assert.InDelta(t, 12.0, lon, 1e-9, "a degree of longitude at 60N is half as long")

	// A westerly pushes east.
	lat, lon = Drift(lat0, lon0, 10, 270, 100)
	assert.InDelta(t, lat0, lat, 1e-9)
	assert.Greater(t, lon, lon0)
	assert.InDelta(t, 1000.0, Haversine(lat0, lon0, lat, lon), 5)
}

func sample(i int, alt float64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp:  now.Add(time.Duration(i) * time.Second),
		Latitude:   lat0,
		Longitude:  lon0,
		Altitude:   alt,
		Satellites: 8,
	}
}

func calm() Wind { return Wind{Source: WindManual} }

func TestSimulate_Descending(t *testing.T) {
	cfg := DefaultConfig()
	est := flight.Estimate{VerticalSpeed: -5, Phase: flight.Descending}
	pred, ok := Simulate(cfg, sample(0, 900), est, calm(), now)
	require.True(t, ok)

	assert.InDelta(t, 180.0, pred.TimeToLanding, 1e-9)
	assert.Equal(t, now.Add(180*time.Second), pred.LandingTime)
	assert.Equal(t, ConfidenceHigh, pred.Confidence)
	assert.Equal(t, 5.0, pred.DescentRate)
	assert.InDelta(t, lat0, pred.Latitude, 1e-12)
	assert.InDelta(t, lon0, pred.Longitude, 1e-12)
	require.NotEmpty(t, pred.Path)
	assert.Equal(t, 0.0, pred.Path[len(pred.Path)-1].Altitude)

	t.Run("override rate", func(t *testing.T) {
		c := cfg
		c.DescentRateOverride = 9
		pred, ok := Simulate(c, sample(0, 900), est, calm(), now)
		require.True(t, ok)
		assert.InDelta(t, 100.0, pred.TimeToLanding, 1e-9)
	})

	t.Run("confidence bands", func(t *testing.T) {
		for alt, want := range map[float64]Confidence{
			999:   ConfidenceHigh,
			4000:  ConfidenceMedium,
			14000: ConfidenceLow,
			20000: ConfidenceVeryLow,
		} {
			pred, ok := Simulate(cfg, sample(0, alt), est, calm(), now)
			require.True(t, ok)
			assert.Equal(t, want, pred.Confidence, "altitude %v", alt)
		}
	})
}

func TestSimulate_Floating(t *testing.T) {
	cfg := DefaultConfig()
	est := flight.Estimate{VerticalSpeed: 0, Phase: flight.Floating}
	pred, ok := Simulate(cfg, sample(0, 25000), est, calm(), now)
	require.True(t, ok)
	assert.Equal(t, ConfidenceVeryLow, pred.Confidence)
	assert.Equal(t, cfg.BurstAltitude, pred.Path[0].Altitude, "descent starts from the planned burst altitude")
	assert.Equal(t, cfg.DescentRateAtBurst, pred.DescentRate)

	// Blended descent is slower than a constant at-burst rate.
	assert.Greater(t, pred.TimeToLanding, cfg.BurstAltitude/cfg.DescentRateAtBurst)
	assert.Less(t, pred.TimeToLanding, cfg.BurstAltitude/cfg.DescentRateAtLanding)
}

func TestSimulate_NoPrediction(t *testing.T) {
	for _, ph := range []flight.Phase{flight.PreLaunch, flight.Landed} {
		pred, ok := Simulate(DefaultConfig(), sample(0, 10), flight.Estimate{Phase: ph}, calm(), now)
		assert.False(t, ok, ph.String())
		assert.Nil(t, pred)
	}
}

func TestSimulate_TimeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSeconds = 100
	est := flight.Estimate{VerticalSpeed: 5, Phase: flight.Ascending}
	pred, ok := Simulate(cfg, sample(0, 1000), est, calm(), now)
	require.True(t, ok)
	assert.True(t, pred.Truncated)
	assert.InDelta(t, 100.0, pred.TimeToLanding, 1e-9)
}

func TestSimulate_StepClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepSeconds = 1
	est := flight.Estimate{VerticalSpeed: -10, Phase: flight.Descending}
	pred, ok := Simulate(cfg, sample(0, 1000), est, calm(), now)
	require.True(t, ok)
	// 100 s of descent at the 10 s minimum step is 10 steps plus the start.
	assert.Len(t, pred.Path, 11)
}

func TestSelectWind(t *testing.T) {
	cfg := DefaultConfig()
	fresh := wind.Uniform(3, 90, now)
	stale := wind.Uniform(3, 90, now.Add(-2*time.Hour))
	drift := &DriftEstimate{Speed: 6, Direction: 180, Samples: 4}

	assert.Equal(t, WindProfile, SelectWind(cfg, fresh, now, drift).Source)
	assert.Equal(t, WindAuto, SelectWind(cfg, stale, now, drift).Source)
	w := SelectWind(cfg, nil, now, nil)
	assert.Equal(t, WindManual, w.Source)
	s, d := w.At(12345)
	assert.Equal(t, cfg.ManualWindSpeed, s)
	assert.Equal(t, cfg.ManualWindFrom, d)

	cfg.WindMaxAge = 3 * time.Hour
	assert.Equal(t, WindProfile, SelectWind(cfg, stale, now, drift).Source)
	cfg.WindMaxAge = 15 * time.Minute
	aging := wind.Uniform(3, 90, now.Add(-30*time.Minute))
	assert.Equal(t, WindAuto, SelectWind(cfg, aging, now, drift).Source)
	cfg.WindMaxAge = 0
	assert.Equal(t, WindProfile, SelectWind(cfg, aging, now, drift).Source)

	cfg.UseWindProfile = false
	assert.Equal(t, WindAuto, SelectWind(cfg, fresh, now, drift).Source)
	cfg.UseAutoWind = false
	assert.Equal(t, WindManual, SelectWind(cfg, fresh, now, drift).Source)
}

func TestDriftEstimator(t *testing.T) {
	d := NewDriftEstimator(5)
	_, ok := d.Estimate()
	assert.False(t, ok)

	for i := 0; i < 8; i++ {
		s := sample(i, 1000+5*float64(i))
		s.Longitude = lon0 + float64(i)*1e-4
		s.Speed = 6
		d.Observe(s)
	}
	est, ok := d.Estimate()
	require.True(t, ok)
	assert.Equal(t, 5, est.Samples)
	assert.InDelta(t, 6.0, est.Speed, 1e-9)
	assert.InDelta(t, 270.0, est.Direction, 1e-6, "moving east means wind from the west")

	d.Reset()
	_, ok = d.Estimate()
	assert.False(t, ok)
}

func TestDriftEstimator_CircularMean(t *testing.T) {
	d := NewDriftEstimator(10)
	// Alternate north-west and north-east tracks; the winds come from the
	// south-east and south-west, averaging to due south, never north.
	lat, lon := lat0, lon0
	d.Observe(telemetry.Sample{Latitude: lat, Longitude: lon, Speed: 4})
	for i := 0; i < 6; i++ {
		lat += 1e-4
		if i%2 == 0 {
			lon -= 1e-4 / math.Cos(rad(lat))
		} else {
			lon += 1e-4 / math.Cos(rad(lat))
		}
		d.Observe(telemetry.Sample{Latitude: lat, Longitude: lon, Speed: 4})
	}
	est, ok := d.Estimate()
	require.True(t, ok)
	assert.InDelta(t, 180.0, est.Direction, 0.5)
}

// End to end: climb at 5 m/s from 500 m under a uniform westerly, then
// come down; every prediction must land east of the launch point.
func TestPredictor_WesterlyFlight(t *testing.T) {
	p := New(DefaultConfig())
	profile := wind.Uniform(10, 270, now)
	hist := telemetry.NewHistory(0)

	_, ok := p.Update(nil, Inputs{Now: now, Profile: profile})
	assert.False(t, ok, "needs at least three samples")

	var ascent *Prediction
	for i := 0; i < 40; i++ {
		hist.Append(sample(i, 500+5*float64(i)))
		pred, ok := p.Update(hist.Samples(), Inputs{Now: now.Add(time.Duration(i) * time.Second), Profile: profile})
		if i < 2 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok, "sample %d", i)
		ascent = pred
	}
	require.NotNil(t, ascent)
	assert.Equal(t, flight.Ascending, ascent.Phase)
	assert.True(t, ascent.UsedWindProfile)
	assert.Equal(t, ConfidenceLow, ascent.Confidence)
	assert.Greater(t, ascent.Longitude, lon0)
	assert.InDelta(t, lat0, ascent.Latitude, 1e-6)
	assert.GreaterOrEqual(t, ascent.TimeToLanding, 0.0)
	assert.Equal(t, 30000.0, ascent.BurstAltitude)
	assert.InDelta(t, 90.0, ascent.BearingToLanding, 1.0)
	assert.Greater(t, ascent.BurstLongitude, lon0)
	assert.Less(t, ascent.BurstLongitude, ascent.Longitude)

	// Burst and descend at 20 m/s.
	top := 500 + 5*39.0
	var descent *Prediction
	for i := 0; i < 10; i++ {
		hist.Append(sample(40+i, top-20*float64(i+1)))
		pred, ok := p.Update(hist.Samples(), Inputs{Now: now.Add(time.Duration(40+i) * time.Second), Profile: profile, Burst: true})
		if ok {
			descent = pred
		}
	}
	require.NotNil(t, descent)
	assert.Equal(t, flight.Descending, descent.Phase)
	assert.Greater(t, descent.Longitude, lon0)
	assert.GreaterOrEqual(t, descent.TimeToLanding, 0.0)
	assert.True(t, descent.UsedWindProfile)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, descent.Timestamp, latest.Timestamp)
	for _, h := range p.History() {
		assert.Nil(t, h.Path)
	}

	p.Reset()
	_, ok = p.Latest()
	assert.False(t, ok)
	assert.Empty(t, p.History())
}

func TestPredictor_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History = 3
	cfg.KeepPath = false
	p := New(cfg)
	hist := telemetry.NewHistory(0)
	for i := 0; i < 10; i++ {
		hist.Append(sample(i, 2000+5*float64(i)))
		p.Update(hist.Samples(), Inputs{Now: now})
	}
	assert.Len(t, p.History(), 3)
}

func TestPredictor_OnlyLatestKeepsPath(t *testing.T) {
	p := New(DefaultConfig())
	hist := telemetry.NewHistory(0)
	var last *Prediction
	for i := 0; i < 10; i++ {
		hist.Append(sample(i, 2000+5*float64(i)))
		if pred, ok := p.Update(hist.Samples(), Inputs{Now: now}); ok {
			require.NotEmpty(t, pred.Path)
			last = pred
		}
	}
	require.NotNil(t, last)
	require.Greater(t, len(p.history), 1)
	for _, pr := range p.history[:len(p.history)-1] {
		assert.Nil(t, pr.Path)
	}
	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, last.Path, latest.Path)
	// The caller's copy is left alone.
	assert.NotEmpty(t, last.Path)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.BurstAltitude = 0
	cfg.MinSamples = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burst altitude")
	assert.Contains(t, err.Error(), "min samples")
}

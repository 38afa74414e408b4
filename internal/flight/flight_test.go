package flight

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)

func pts(alts ...float64) []Point {
	out := make([]Point, len(alts))
	for i, a := range alts {
		out[i] = Point{Time: epoch.Add(time.Duration(i) * time.Second), Altitude: a}
	}
	return out
}

func TestVerticalSpeed(t *testing.T) {
	tests := []struct {
		name      string
		points    []Point
		intervals int
		want      float64
	}{
		{"empty", nil, 5, 0},
		{"single", pts(10), 5, 0},
		{"steady climb", pts(0, 5, 10, 15, 20, 25, 30), 5, 5},
		{"uses only recent intervals", pts(0, 100, 105, 110, 115, 120, 125), 5, 5},
		{"mixed", pts(0, 10, 0), 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VerticalSpeed(tt.points, tt.intervals), 1e-9)
		})
	}

	t.Run("skips non-positive dt", func(t *testing.T) {
		p := pts(0, 10, 20)
		p = append(p, Point{Time: p[2].Time, Altitude: 500})
		assert.InDelta(t, 10.0, VerticalSpeed(p, 5), 1e-9)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		alt, vs float64
		burst   bool
		want    Phase
	}{
		{10, 0.2, false, PreLaunch},
		{10, 0.2, true, Landed},
		{50, 3, false, Ascending},
		{5000, 5, false, Ascending},
		{5000, -6, false, Descending},
		{30000, 0.5, false, Floating},
		{30000, -1.0, false, Floating},
		{50, -3, true, Descending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.alt, tt.vs, tt.burst), "alt=%v vs=%v burst=%v", tt.alt, tt.vs, tt.burst)
	}
}

func TestPhaseText(t *testing.T) {
	b, err := json.Marshal(map[string]Phase{"phase": Descending})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"descending"}`, string(b))

	var p Phase
	require.NoError(t, p.UnmarshalText([]byte("floating")))
	assert.Equal(t, Floating, p)
	assert.Error(t, p.UnmarshalText([]byte("orbit")))
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	for _, p := range pts(1, 2, 3, 4, 5) {
		r.Push(p)
	}
	got := r.Points()
	require.Len(t, got, 3)
	assert.Equal(t, 3.0, got[0].Altitude)
	assert.Equal(t, 5.0, got[2].Altitude)
	r.Reset()
	assert.Zero(t, r.Len())
}

func TestEstimator_MatchesWindowFunction(t *testing.T) {
	points := pts(0, 3, 9, 20, 26, 40, 41, 47, 60, 70, 71, 90)
	e := NewEstimator(DefaultWindow, DefaultIntervals)
	for _, p := range points {
		e.Add(p, false)
	}
	assert.Equal(t, EstimateWindow(points, DefaultWindow, DefaultIntervals, false), e.Last())
	assert.Equal(t, Ascending, e.Last().Phase)

	e.Reset()
	assert.Equal(t, Estimate{}, e.Last())
}

// burstFeed drives d with altitudes at one second spacing starting at
// offset seconds, reporting whether any call latched.
func burstFeed(d *BurstDetector, offset int, alts ...float64) (latchedAt int) {
	latchedAt = -1
	for i, a := range alts {
		if _, ok := d.Add(Fix{Time: epoch.Add(time.Duration(offset+i) * time.Second), Altitude: a}); ok {
			latchedAt = i
		}
	}
	return latchedAt
}

func ascent() []float64 {
	var alts []float64
	for i := 0; i <= 20; i++ {
		alts = append(alts, 1000+5*float64(i))
	}
	return alts // ends at 1100
}

func TestBurstDetector_LatchesAfterThreeSamples(t *testing.T) {
	d := NewBurstDetector(DefaultBurstConfig())
	up := ascent()
	require.Equal(t, -1, burstFeed(d, 0, up...))

	// Window means: -6, -17, -28.
	idx := burstFeed(d, len(up), 1050, 1000, 950)
	assert.Equal(t, 2, idx)

	ev, ok := d.Event()
	require.True(t, ok)
	assert.Equal(t, 950.0, ev.Altitude)
	assert.Equal(t, 1100.0, ev.MaxAltitude)

	// One-shot: further descent never re-latches.
	assert.Equal(t, -1, burstFeed(d, len(up)+3, 900, 850, 800, 750))
	ev2, _ := d.Event()
	assert.Equal(t, ev, ev2)
}

func TestBurstDetector_RecoveryResetsRun(t *testing.T) {
	d := NewBurstDetector(DefaultBurstConfig())
	up := ascent()
	burstFeed(d, 0, up...)

	// Two samples below threshold, then a recovering one (window mean -4).
	assert.Equal(t, -1, burstFeed(d, len(up), 1050, 1000, 1070))
	assert.False(t, d.Latched())

	// The run restarts: two more below are not enough, the third latches.
	off := len(up) + 3
	assert.Equal(t, -1, burstFeed(d, off, 1020, 970))
	assert.False(t, d.Latched())
	assert.Equal(t, 0, burstFeed(d, off+2, 920))
	assert.True(t, d.Latched())
}

func TestBurstDetector_AltitudeGate(t *testing.T) {
	d := NewBurstDetector(DefaultBurstConfig())
	assert.Equal(t, -1, burstFeed(d, 0, 500, 700, 900, 950, 1000, 600, 200, 50, 10))
	assert.False(t, d.Latched())
	assert.Equal(t, 1000.0, d.MaxAltitude())
}

func TestBurstDetector_Reset(t *testing.T) {
	d := NewBurstDetector(BurstConfig{})
	up := ascent()
	burstFeed(d, 0, up...)
	burstFeed(d, len(up), 1050, 1000, 950)
	require.True(t, d.Latched())

	d.Reset()
	assert.False(t, d.Latched())
	assert.Zero(t, d.MaxAltitude())
	_, ok := d.Event()
	assert.False(t, ok)
}

package predict

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/raptorhab/internal/telemetry"
)

// DriftEstimate is a wind estimate derived from the payload's own ground
// track while it climbs.
type DriftEstimate struct {
	Speed     float64 `json:"speed"`
	Direction float64 `json:"direction"` // from
	Samples   int     `json:"samples"`
}

// DriftEstimator turns consecutive ascending fixes into wind estimates and
// averages the most recent ones.
type DriftEstimator struct {
	keep      int
	speeds    []float64
	dirs      []float64 // radians
	lastTrack *telemetry.Sample
}

// NewDriftEstimator keeps the last keep estimates.
func NewDriftEstimator(keep int) *DriftEstimator {
	if keep <= 0 {
		keep = 10
	}
	return &DriftEstimator{keep: keep}
}

// Observe feeds a sample taken while ascending. The track between it and
// the previous observation is the direction the wind is blowing towards.
func (d *DriftEstimator) Observe(s telemetry.Sample) {
	prev := d.lastTrack
	cur := s
	d.lastTrack = &cur
	if prev == nil || s.Speed < 0.5 {
		return
	}
	dlat := s.Latitude - prev.Latitude
	dlon := s.Longitude - prev.Longitude
	if math.Abs(dlat) < 1e-7 && math.Abs(dlon) < 1e-7 {
		return
	}
	track := math.Atan2(dlon*math.Cos(rad(s.Latitude)), dlat)
	from := math.Mod(deg(track)+180+360, 360)

	d.speeds = append(d.speeds, s.Speed)
	d.dirs = append(d.dirs, rad(from))
	if len(d.speeds) > d.keep {
		d.speeds = d.speeds[1:]
		d.dirs = d.dirs[1:]
	}
}

// Break forgets the previous fix so the next Observe starts a new track.
func (d *DriftEstimator) Break() { d.lastTrack = nil }

// Estimate returns the averaged wind, or false when nothing was observed.
func (d *DriftEstimator) Estimate() (DriftEstimate, bool) {
	if len(d.speeds) == 0 {
		return DriftEstimate{}, false
	}
	dir := deg(stat.CircularMean(d.dirs, nil))
	return DriftEstimate{
		Speed:     stat.Mean(d.speeds, nil),
		Direction: math.Mod(dir+360, 360),
		Samples:   len(d.speeds),
	}, true
}

// Reset clears all estimates.
func (d *DriftEstimator) Reset() {
	d.speeds = d.speeds[:0]
	d.dirs = d.dirs[:0]
	d.lastTrack = nil
}

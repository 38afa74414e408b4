// Package wind models an altitude-indexed wind forecast and keeps a cached
// copy fresh from an external forecast source.
package wind

import (
	"math"
	"sort"
	"time"
)

// MaxAge is how long a fetched profile stays usable.
const MaxAge = time.Hour

// Layer is the wind at one altitude. Direction is where the wind blows
// from, in degrees clockwise from north.
type Layer struct {
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Direction float64 `json:"direction"`
}

// Profile is a set of layers sorted by ascending altitude.
type Profile struct {
	Layers    []Layer   `json:"layers"`
	FetchTime time.Time `json:"fetch_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Source    string    `json:"source,omitempty"`
}

// NewProfile copies layers, sorts them by altitude and stamps fetchTime.
func NewProfile(layers []Layer, fetchTime time.Time) *Profile {
	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Altitude < sorted[j].Altitude })
	return &Profile{Layers: sorted, FetchTime: fetchTime}
}

// Uniform returns a profile with the same wind at every altitude.
func Uniform(speed, direction float64, fetchTime time.Time) *Profile {
	return NewProfile([]Layer{
		{Altitude: 0, Speed: speed, Direction: direction},
		{Altitude: 40000, Speed: speed, Direction: direction},
	}, fetchTime)
}

// IsValid reports whether p has layers and is younger than MaxAge at now.
func (p *Profile) IsValid(now time.Time) bool {
	return p.ValidFor(now, MaxAge)
}

// ValidFor is IsValid with an explicit maximum age.
func (p *Profile) ValidFor(now time.Time, maxAge time.Duration) bool {
	if p == nil || len(p.Layers) == 0 {
		return false
	}
	return now.Sub(p.FetchTime) < maxAge
}

// At returns the wind speed and from-direction at altitude. Outside the
// layer range the nearest layer is returned unchanged. Between layers speed
// is interpolated linearly and direction along the shorter arc.
func (p *Profile) At(altitude float64) (speed, direction float64) {
	n := len(p.Layers)
	if n == 0 {
		return 0, 0
	}
	lo, hi := p.Layers[0], p.Layers[n-1]
	if altitude <= lo.Altitude {
		return lo.Speed, lo.Direction
	}
	if altitude >= hi.Altitude {
		return hi.Speed, hi.Direction
	}

	i := sort.Search(n, func(i int) bool { return p.Layers[i].Altitude >= altitude })
	upper, lower := p.Layers[i], p.Layers[i-1]
	if upper.Altitude == altitude {
		return upper.Speed, upper.Direction
	}
	f := (altitude - lower.Altitude) / (upper.Altitude - lower.Altitude)
	speed = lower.Speed + f*(upper.Speed-lower.Speed)
	direction = NormalizeDegrees(lower.Direction + f*AngleDiff(lower.Direction, upper.Direction))
	return speed, direction
}

// NormalizeDegrees maps d into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// AngleDiff returns to-from normalised into [-180, 180).
func AngleDiff(from, to float64) float64 {
	return NormalizeDegrees(to-from+180) - 180
}

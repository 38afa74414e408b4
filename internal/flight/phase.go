// Package flight estimates vertical speed and flight phase from altitude
// history and latches the balloon burst.
package flight

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase is the coarse state of the flight.
type Phase int

const (
	PreLaunch Phase = iota
	Ascending
	Floating
	Descending
	Landed
)

var phaseNames = [...]string{"prelaunch", "ascending", "floating", "descending", "landed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown flight phase %q", b)
}

// Classification thresholds shared by every estimator.
const (
	GroundAltitude   = 100.0 // m
	GroundStillSpeed = 1.0   // m/s, |vs| below this on the ground
	ClimbThreshold   = 1.0   // m/s
	SinkThreshold    = -1.0  // m/s
)

// Classify maps an altitude and vertical speed to a phase. burst selects
// Landed over PreLaunch for a stationary payload near the ground.
func Classify(altitude, verticalSpeed float64, burst bool) Phase {
	switch {
	case altitude < GroundAltitude && math.Abs(verticalSpeed) < GroundStillSpeed:
		if burst {
			return Landed
		}
		return PreLaunch
	case verticalSpeed > ClimbThreshold:
		return Ascending
	case verticalSpeed < SinkThreshold:
		return Descending
	default:
		return Floating
	}
}

// Point is one altitude observation.
type Point struct {
	Time     time.Time
	Altitude float64
}

// VerticalSpeed returns the mean of the per-step climb rates over the most
// recent intervals steps of points (oldest first). Steps with a
// non-positive time delta are skipped. It returns 0 when no step is usable.
func VerticalSpeed(points []Point, intervals int) float64 {
	if len(points) < 2 || intervals <= 0 {
		return 0
	}
	start := max(0, len(points)-1-intervals)
	slopes := make([]float64, 0, intervals)
	for i := start + 1; i < len(points); i++ {
		dt := points[i].Time.Sub(points[i-1].Time).Seconds()
		if dt <= 0 {
			continue
		}
		slopes = append(slopes, (points[i].Altitude-points[i-1].Altitude)/dt)
	}
	if len(slopes) == 0 {
		return 0
	}
	return stat.Mean(slopes, nil)
}

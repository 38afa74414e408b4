// Package predict forward-simulates the rest of a balloon flight to
// estimate where it will land.
package predict

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// Config tunes the landing predictor.
type Config struct {
	BurstAltitude float64 // m, planned burst altitude
	AscentRate    float64 // m/s, used when the measured rate is unusable

	// Descent rate blends linearly from DescentRateAtBurst at burst altitude
	// to DescentRateAtLanding at the ground.
	DescentRateAtBurst   float64
	DescentRateAtLanding float64
	// DescentRateOverride, when positive, replaces the measured rate while
	// descending.
	DescentRateOverride float64

	TargetAltitude float64 // m, ground level at the landing site
	StepSeconds    float64 // clamped to [MinStep, MaxStep]
	MaxSeconds     float64 // cap on simulated time

	UseWindProfile  bool
	UseAutoWind     bool
	WindMaxAge      time.Duration // profiles older than this fall back
	ManualWindSpeed float64 // m/s
	ManualWindFrom  float64 // degrees

	Window     int // samples considered for the phase estimate
	Intervals  int
	MinSamples int
	History    int // predictions retained
	KeepPath   bool
}

const (
	MinStep = 10.0
	MaxStep = 30.0
)

// DefaultConfig returns the standard predictor settings.
func DefaultConfig() Config {
	return Config{
		BurstAltitude:        30000,
		AscentRate:           5,
		DescentRateAtBurst:   12,
		DescentRateAtLanding: 5,
		TargetAltitude:       0,
		StepSeconds:          MinStep,
		MaxSeconds:           86400,
		UseWindProfile:       true,
		UseAutoWind:          true,
		WindMaxAge:           wind.MaxAge,
		ManualWindSpeed:      10,
		ManualWindFrom:       270,
		Window:               flight.DefaultPredictorWindow,
		Intervals:            flight.DefaultIntervals,
		MinSamples:           3,
		History:              100,
		KeepPath:             true,
	}
}

// Validate checks that cfg can drive a simulation.
func (c Config) Validate() error {
	var errs []error
	if c.BurstAltitude <= 0 {
		errs = append(errs, fmt.Errorf("burst altitude must be positive, got %v", c.BurstAltitude))
	}
	if c.AscentRate <= 0 {
		errs = append(errs, fmt.Errorf("ascent rate must be positive, got %v", c.AscentRate))
	}
	if c.DescentRateAtBurst <= 0 || c.DescentRateAtLanding <= 0 {
		errs = append(errs, errors.New("descent rates must be positive"))
	}
	if c.TargetAltitude >= c.BurstAltitude {
		errs = append(errs, fmt.Errorf("target altitude %v must be below burst altitude %v", c.TargetAltitude, c.BurstAltitude))
	}
	if c.MaxSeconds <= 0 {
		errs = append(errs, errors.New("max simulated seconds must be positive"))
	}
	if c.ManualWindSpeed < 0 {
		errs = append(errs, errors.New("manual wind speed must not be negative"))
	}
	if c.MinSamples < 2 {
		errs = append(errs, fmt.Errorf("min samples must be at least 2, got %d", c.MinSamples))
	}
	return errors.Join(errs...)
}

func (c Config) step() float64 {
	return min(MaxStep, max(MinStep, c.StepSeconds))
}

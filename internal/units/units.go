// Package units converts flight quantities from the SI units they are
// recorded in to the units an operator asks for.
package units

import (
	"fmt"
	"strings"
)

// Speed units
const (
	MPS   = "mps"
	KMPH  = "kmph"
	MPH   = "mph"
	KNOTS = "kn"
)

// Altitude units
const (
	Metres = "m"
	Feet   = "ft"
)

var (
	ValidSpeedUnits    = []string{MPS, KMPH, MPH, KNOTS}
	ValidAltitudeUnits = []string{Metres, Feet}
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidSpeed reports whether unit is a known speed unit.
func IsValidSpeed(unit string) bool { return contains(ValidSpeedUnits, unit) }

// IsValidAltitude reports whether unit is a known altitude unit.
func IsValidAltitude(unit string) bool { return contains(ValidAltitudeUnits, unit) }

// ConvertSpeed converts a speed from metres per second. Unknown units are
// left in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case KMPH:
		return speedMPS * 3.6
	case MPH:
		return speedMPS * 2.23694
	case KNOTS:
		return speedMPS * 1.94384
	default:
		return speedMPS
	}
}

// ConvertAltitude converts metres to targetUnits.
func ConvertAltitude(metres float64, targetUnits string) float64 {
	if targetUnits == Feet {
		return metres / 0.3048
	}
	return metres
}

// SpeedLabel is the suffix printed after a converted speed.
func SpeedLabel(unit string) string {
	switch unit {
	case KMPH:
		return "km/h"
	case MPH:
		return "mph"
	case KNOTS:
		return "kn"
	default:
		return "m/s"
	}
}

// Validate checks a speed and altitude unit pair, as given on a command line.
func Validate(speed, altitude string) error {
	if !IsValidSpeed(speed) {
		return fmt.Errorf("invalid speed unit %q (valid: %s)", speed, strings.Join(ValidSpeedUnits, ", "))
	}
	if !IsValidAltitude(altitude) {
		return fmt.Errorf("invalid altitude unit %q (valid: %s)", altitude, strings.Join(ValidAltitudeUnits, ", "))
	}
	return nil
}

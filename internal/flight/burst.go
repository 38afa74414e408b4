package flight

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// BurstConfig tunes the burst detector.
type BurstConfig struct {
	// Threshold is the vertical speed (m/s, negative) a sample must fall
	// below to count towards a burst.
	Threshold float64
	// ConfirmationSamples is the number of consecutive samples required.
	ConfirmationSamples int
	// MinAltitude gates detection: nothing is evaluated until the maximum
	// altitude seen exceeds it.
	MinAltitude float64
	Window      int
	Intervals   int
}

// DefaultBurstConfig returns the standard detector settings.
func DefaultBurstConfig() BurstConfig {
	return BurstConfig{
		Threshold:           -5.0,
		ConfirmationSamples: 3,
		MinAltitude:         1000,
		Window:              DefaultWindow,
		Intervals:           DefaultIntervals,
	}
}

// BurstEvent records where and when the balloon burst.
type BurstEvent struct {
	Time        time.Time `json:"time"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    float64   `json:"altitude"`
	MaxAltitude float64   `json:"max_altitude"`
}

// Fix is the position part of an observation fed to the burst detector.
type Fix struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// BurstDetector latches a single BurstEvent after sustained descent above
// the altitude gate. Once latched it stays latched until Reset.
type BurstDetector struct {
	cfg         BurstConfig
	ring        *Ring
	maxAltitude float64
	run         []float64
	event       *BurstEvent
}

// NewBurstDetector returns a detector with cfg. Zero fields fall back to
// DefaultBurstConfig.
func NewBurstDetector(cfg BurstConfig) *BurstDetector {
	def := DefaultBurstConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ConfirmationSamples <= 0 {
		cfg.ConfirmationSamples = def.ConfirmationSamples
	}
	if cfg.MinAltitude <= 0 {
		cfg.MinAltitude = def.MinAltitude
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Intervals <= 0 {
		cfg.Intervals = def.Intervals
	}
	return &BurstDetector{cfg: cfg, ring: NewRing(cfg.Window)}
}

// Add feeds one observation. It returns the event only on the call that
// latches it.
func (d *BurstDetector) Add(f Fix) (*BurstEvent, bool) {
	if f.Altitude > d.maxAltitude {
		d.maxAltitude = f.Altitude
	}
	d.ring.Push(Point{Time: f.Time, Altitude: f.Altitude})
	if d.event != nil || d.maxAltitude <= d.cfg.MinAltitude {
		return nil, false
	}

	vs := VerticalSpeed(d.ring.Points(), d.cfg.Intervals)
	if vs >= d.cfg.Threshold {
		d.run = d.run[:0]
		return nil, false
	}
	d.run = append(d.run, vs)
	if len(d.run) < d.cfg.ConfirmationSamples || stat.Mean(d.run, nil) >= d.cfg.Threshold {
		return nil, false
	}

	d.event = &BurstEvent{
		Time:        f.Time,
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		Altitude:    f.Altitude,
		MaxAltitude: d.maxAltitude,
	}
	ev := *d.event
	return &ev, true
}

// Event returns the latched event, if any.
func (d *BurstDetector) Event() (BurstEvent, bool) {
	if d.event == nil {
		return BurstEvent{}, false
	}
	return *d.event, true
}

// Latched reports whether a burst has been recorded.
func (d *BurstDetector) Latched() bool { return d.event != nil }

// MaxAltitude returns the highest altitude seen since Reset.
func (d *BurstDetector) MaxAltitude() float64 { return d.maxAltitude }

// Reset re-arms the detector for a new flight.
func (d *BurstDetector) Reset() {
	d.ring.Reset()
	d.maxAltitude = 0
	d.run = d.run[:0]
	d.event = nil
}

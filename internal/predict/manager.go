package predict

import (
	"time"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// Inputs are the per-update collaborators of the Predictor.
type Inputs struct {
	Now     time.Time
	Profile *wind.Profile // may be nil or stale
	Burst   bool          // state of the burst latch
}

// Predictor keeps the per-flight prediction state: the drift estimator and
// a bounded history of predictions. It is not safe for concurrent use.
type Predictor struct {
	cfg     Config
	drift   *DriftEstimator
	history []Prediction
	last    flight.Estimate
}

// New returns a predictor using cfg.
func New(cfg Config) *Predictor {
	if cfg.History <= 0 {
		cfg.History = DefaultConfig().History
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	return &Predictor{cfg: cfg, drift: NewDriftEstimator(10)}
}

// Config returns the predictor settings.
func (p *Predictor) Config() Config { return p.cfg }

// Update re-estimates the phase over the recent samples and, when the phase
// allows it, simulates the rest of the flight. samples are oldest first.
func (p *Predictor) Update(samples []telemetry.Sample, in Inputs) (*Prediction, bool) {
	if len(samples) < p.cfg.MinSamples {
		return nil, false
	}
	window := samples
	if p.cfg.Window > 0 && len(window) > p.cfg.Window {
		window = window[len(window)-p.cfg.Window:]
	}
	points := make([]flight.Point, len(window))
	for i, s := range window {
		points[i] = flight.Point{Time: s.Timestamp, Altitude: s.Altitude}
	}
	est := flight.EstimateWindow(points, p.cfg.Window, p.cfg.Intervals, in.Burst)
	p.last = est

	latest := samples[len(samples)-1]
	if est.Phase == flight.Ascending && latest.HasFix() {
		p.drift.Observe(latest)
	} else {
		p.drift.Break()
	}

	var drift *DriftEstimate
	if d, ok := p.drift.Estimate(); ok {
		drift = &d
	}
	w := SelectWind(p.cfg, in.Profile, in.Now, drift)

	pred, ok := Simulate(p.cfg, latest, est, w, in.Now)
	if !ok {
		return nil, false
	}
	// Only the latest prediction keeps its path.
	if n := len(p.history); n > 0 {
		p.history[n-1].Path = nil
	}
	p.history = append(p.history, *pred)
	if len(p.history) > p.cfg.History {
		p.history = p.history[len(p.history)-p.cfg.History:]
	}
	return pred, true
}

// Estimate returns the phase estimate from the last Update.
func (p *Predictor) Estimate() flight.Estimate { return p.last }

// Drift returns the current drift-derived wind estimate.
func (p *Predictor) Drift() (DriftEstimate, bool) { return p.drift.Estimate() }

// Latest returns the most recent prediction.
func (p *Predictor) Latest() (Prediction, bool) {
	if len(p.history) == 0 {
		return Prediction{}, false
	}
	return p.history[len(p.history)-1], true
}

// History returns retained predictions, oldest first, without paths.
func (p *Predictor) History() []Prediction {
	out := make([]Prediction, len(p.history))
	for i, pr := range p.history {
		pr.Path = nil
		out[i] = pr
	}
	return out
}

// Reset clears all per-flight state.
func (p *Predictor) Reset() {
	p.history = nil
	p.drift.Reset()
	p.last = flight.Estimate{}
}

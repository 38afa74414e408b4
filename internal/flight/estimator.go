package flight

// Default window sizes. The estimator that drives burst bookkeeping and the
// one used by landing prediction run the same rules over different windows.
const (
	DefaultWindow          = 10
	DefaultPredictorWindow = 30
	DefaultIntervals       = 5
)

// Ring keeps the most recent altitude points, oldest first.
type Ring struct {
	points []Point
	start  int
	n      int
}

// NewRing returns a ring holding at most capacity points.
func NewRing(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{points: make([]Point, capacity)}
}

// Push adds p, evicting the oldest point when full.
func (r *Ring) Push(p Point) {
	idx := (r.start + r.n) % len(r.points)
	r.points[idx] = p
	if r.n < len(r.points) {
		r.n++
		return
	}
	r.start = (r.start + 1) % len(r.points)
}

// Points returns the held points, oldest first.
func (r *Ring) Points() []Point {
	out := make([]Point, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.points[(r.start+i)%len(r.points)]
	}
	return out
}

// Len returns the number of points held.
func (r *Ring) Len() int { return r.n }

// Reset empties the ring.
func (r *Ring) Reset() {
	r.start, r.n = 0, 0
}

// Estimate is the output of an Estimator update.
type Estimate struct {
	VerticalSpeed float64 `json:"vertical_speed"`
	Phase         Phase   `json:"phase"`
}

// Estimator smooths altitude into a vertical speed and classifies the
// phase. It owns its ring so independent instances never share state.
type Estimator struct {
	ring      *Ring
	intervals int
	last      Estimate
}

// NewEstimator returns an estimator over a window of points, averaging the
// most recent intervals steps.
func NewEstimator(window, intervals int) *Estimator {
	if intervals <= 0 {
		intervals = DefaultIntervals
	}
	return &Estimator{ring: NewRing(window), intervals: intervals}
}

// Add records p and returns the updated estimate. burst is the state of the
// burst latch, used to tell Landed from PreLaunch.
func (e *Estimator) Add(p Point, burst bool) Estimate {
	e.ring.Push(p)
	vs := VerticalSpeed(e.ring.Points(), e.intervals)
	e.last = Estimate{VerticalSpeed: vs, Phase: Classify(p.Altitude, vs, burst)}
	return e.last
}

// Last returns the most recent estimate.
func (e *Estimator) Last() Estimate { return e.last }

// Reset clears the window.
func (e *Estimator) Reset() {
	e.ring.Reset()
	e.last = Estimate{}
}

// EstimateWindow classifies the tail of points without keeping state. It is
// the same rule set Estimator applies incrementally.
func EstimateWindow(points []Point, window, intervals int, burst bool) Estimate {
	if len(points) == 0 {
		return Estimate{}
	}
	if window > 0 && len(points) > window {
		points = points[len(points)-window:]
	}
	vs := VerticalSpeed(points, intervals)
	return Estimate{VerticalSpeed: vs, Phase: Classify(points[len(points)-1].Altitude, vs, burst)}
}

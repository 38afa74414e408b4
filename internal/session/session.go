// Package session owns the state of one receive session: everything decoded
// from a single modem byte stream between two resets.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/timeutil"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// DefaultInactivityTimeout is how long without a valid packet before the
// link is reported as silent.
const DefaultInactivityTimeout = 30 * time.Second

// Config sizes the per-flight buffers and tunes the estimators.
type Config struct {
	HistoryCapacity int
	MessageCapacity int
	ImageCapacity   int
	Burst           flight.BurstConfig
	Predict         predict.Config
	ImagePolicy     imaging.MismatchPolicy
	// LogEvery samples decode rejection logging per error class.
	LogEvery uint64
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: telemetry.DefaultHistoryCapacity,
		MessageCapacity: 100,
		ImageCapacity:   32,
		Burst:           flight.DefaultBurstConfig(),
		Predict:         predict.DefaultConfig(),
		ImagePolicy:     imaging.Hold,
		LogEvery:        100,
	}
}

// Message is a text message received from the payload.
type Message struct {
	Time     time.Time `json:"time"`
	Sequence uint16    `json:"sequence"`
	Text     string    `json:"text"`
}

// Stats counts session activity since the last Reset.
type Stats struct {
	FlightID      string              `json:"flight_id"`
	Started       time.Time           `json:"started"`
	BytesReceived uint64              `json:"bytes_received"`
	Frames        protocol.FrameStats `json:"frames"`

	PacketsReceived uint64 `json:"packets_received"`
	PacketsValid    uint64 `json:"packets_valid"`
	PacketsInvalid  uint64 `json:"packets_invalid"`
	BadSync         uint64 `json:"bad_sync"`
	BadLength       uint64 `json:"bad_length"`
	CRCMismatch     uint64 `json:"crc_mismatch"`
	PayloadErrors   uint64 `json:"payload_errors"`

	Telemetry   uint64 `json:"telemetry"`
	ImageMeta   uint64 `json:"image_meta"`
	ImageData   uint64 `json:"image_data"`
	Text        uint64 `json:"text"`
	CommandAcks uint64 `json:"command_acks"`
	Commands    uint64 `json:"commands"`
	Unknown     uint64 `json:"unknown"`

	Images      imaging.Stats `json:"images"`
	ImageErrors uint64        `json:"image_errors"`

	LastPacket      time.Time             `json:"last_packet"`
	ModemConfigured bool                  `json:"modem_configured"`
	LastModemStatus *protocol.ModemStatus `json:"last_modem_status,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects the time source.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithWindCache attaches a wind profile cache. Without one, predictions use
// the drift estimate or manual wind.
func WithWindCache(c *wind.Cache) Option {
	return func(s *Session) { s.wind = c }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// WithContext sets the parent context for background wind fetches.
func WithContext(ctx context.Context) Option {
	return func(s *Session) { s.ctx = ctx }
}

// Session decodes one modem byte stream. Feed must be called from a single
// goroutine; the snapshot accessors are safe to call concurrently with it.
type Session struct {
	cfg       Config
	clock     timeutil.Clock
	dispatch  sync.Mutex
	wind      *wind.Cache
	ctx       context.Context
	cancel    context.CancelFunc
	log       *monitoring.Sampler
	observers []Observer

	mu        sync.Mutex
	flightID  string
	frames    *protocol.FrameExtractor
	lines     protocol.LineScanner
	images    *imaging.Reassembler
	phase     *flight.Estimator
	burst     *flight.BurstDetector
	predictor *predict.Predictor
	history   *telemetry.History
	messages  []Message
	completed []*imaging.Image
	stats     Stats
	events    []func(Observer)
}

// New returns a session ready to Feed.
func New(cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.MessageCapacity <= 0 {
		cfg.MessageCapacity = def.MessageCapacity
	}
	if cfg.ImageCapacity <= 0 {
		cfg.ImageCapacity = def.ImageCapacity
	}
	if cfg.LogEvery == 0 {
		cfg.LogEvery = def.LogEvery
	}

	s := &Session{cfg: cfg, clock: timeutil.RealClock{}, ctx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(s.ctx)
	s.log = monitoring.NewSampler(cfg.LogEvery)

	s.frames = protocol.NewFrameExtractor()
	s.frames.OnError = func(err error) {
		s.log.Logf(errorKey(err), "dropped frame: %v", err)
	}
	s.images = imaging.NewReassembler(cfg.ImagePolicy)
	s.phase = flight.NewEstimator(flight.DefaultWindow, flight.DefaultIntervals)
	s.burst = flight.NewBurstDetector(cfg.Burst)
	s.predictor = predict.New(cfg.Predict)
	s.history = telemetry.NewHistory(cfg.HistoryCapacity)
	s.startFlight()
	return s
}

func (s *Session) startFlight() {
	s.flightID = uuid.NewString()
	s.stats = Stats{FlightID: s.flightID, Started: s.clock.Now()}
}

func errorKey(err error) string {
	if k := errors.Unwrap(err); k != nil {
		return k.Error()
	}
	return err.Error()
}

// AddObserver registers o for subsequent events.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) emit(fn func(Observer)) {
	s.events = append(s.events, fn)
}

// flush delivers queued events outside the state lock. Only one goroutine
// delivers at a time and the queue is drained in the order events were
// emitted, so observers never see a flight's events before its OnReset.
func (s *Session) flush() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	for {
		s.mu.Lock()
		events := s.events
		s.events = nil
		observers := s.observers
		s.mu.Unlock()
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			for _, o := range observers {
				ev(o)
			}
		}
	}
}

// Feed processes one chunk of raw modem bytes. It never blocks on I/O and
// never fails: malformed input is counted in Stats and dropped.
func (s *Session) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	now := s.clock.Now()
	s.stats.BytesReceived += uint64(len(chunk))
	for _, st := range s.lines.Scan(chunk) {
		s.handleModem(st)
	}
	for _, f := range s.frames.Extract(chunk) {
		s.handleFrame(f, now)
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) handleModem(st protocol.ModemStatus) {
	switch st.Kind {
	case protocol.ModemConfigOK:
		s.stats.ModemConfigured = true
		monitoring.Logf("modem configured: %s", st.Line)
	case protocol.ModemConfigError:
		s.stats.ModemConfigured = false
		monitoring.Logf("modem configuration failed: %s", st.Line)
	}
	cp := st
	s.stats.LastModemStatus = &cp
	id := s.flightID
	s.emit(func(o Observer) { o.OnModemStatus(id, st) })
}

func (s *Session) handleFrame(f protocol.Frame, now time.Time) {
	s.stats.PacketsReceived++
	pkt, err := protocol.DecodePacket(f.Packet)
	if err != nil {
		s.stats.PacketsInvalid++
		switch {
		case errors.Is(err, protocol.ErrBadSync):
			s.stats.BadSync++
		case errors.Is(err, protocol.ErrBadLength):
			s.stats.BadLength++
		case errors.Is(err, protocol.ErrCRCMismatch):
			s.stats.CRCMismatch++
		default:
			s.stats.PayloadErrors++
		}
		s.log.Logf(errorKey(err), "dropped packet: %v", err)
		return
	}
	s.stats.PacketsValid++
	s.stats.LastPacket = now

	switch body := pkt.Body.(type) {
	case *protocol.Telemetry:
		s.stats.Telemetry++
		s.handleTelemetry(telemetry.FromPayload(body, pkt.Sequence, f.RSSI, f.SNR, now), now)
	case *protocol.ImageMeta:
		s.stats.ImageMeta++
		img, err := s.images.AddMeta(body, now)
		s.handleImage(body.ImageID, img, err)
	case *protocol.ImageData:
		s.stats.ImageData++
		img, err := s.images.AddSymbol(body, now)
		s.handleImage(body.ImageID, img, err)
	case *protocol.Text:
		s.stats.Text++
		s.handleText(Message{Time: now, Sequence: pkt.Sequence, Text: body.Message})
	case *protocol.CommandAck:
		s.stats.CommandAcks++
		monitoring.Logf("command ack: type=%s seq=%d status=%d", body.AckedType, body.AckedSeq, body.Status)
	case *protocol.Raw:
		if body.PacketType() == protocol.TypeUnknown {
			s.stats.Unknown++
		} else {
			s.stats.Commands++
		}
	}
}

func (s *Session) handleTelemetry(sample telemetry.Sample, now time.Time) {
	id := s.flightID
	est := s.phase.Add(flight.Point{Time: sample.Timestamp, Altitude: sample.Altitude}, s.burst.Latched())
	sample.VerticalSpeed = est.VerticalSpeed
	s.history.Append(sample)
	s.emit(func(o Observer) { o.OnTelemetry(id, sample) })

	// Altitude keeps arriving through a GPS dropout, so burst detection sees
	// every sample. The event position is whatever the sample carried.
	fix := flight.Fix{Time: sample.Timestamp, Latitude: sample.Latitude, Longitude: sample.Longitude, Altitude: sample.Altitude}
	if ev, ok := s.burst.Add(fix); ok {
		monitoring.Logf("burst detected at %.0f m (max %.0f m)", ev.Altitude, ev.MaxAltitude)
		e := *ev
		s.emit(func(o Observer) { o.OnBurst(id, e) })
	}

	var profile *wind.Profile
	if s.wind != nil {
		profile, _ = s.wind.Valid()
	}
	n := max(s.cfg.Predict.Window, s.cfg.Predict.MinSamples)
	if pred, ok := s.predictor.Update(s.history.Last(n), predict.Inputs{Now: now, Profile: profile, Burst: s.burst.Latched()}); ok {
		s.emit(func(o Observer) { o.OnPrediction(id, pred) })
	}

	if s.wind != nil && sample.HasFix() {
		s.wind.MaybeRefresh(s.ctx, sample.Latitude, sample.Longitude)
	}
}

func (s *Session) handleImage(imageID uint16, img *imaging.Image, err error) {
	id := s.flightID
	if err != nil {
		s.stats.ImageErrors++
		s.log.Logf(errorKey(err), "image %d: %v", imageID, err)
	}
	if img != nil {
		monitoring.Logf("image %d complete: %d bytes", img.ID, len(img.Data))
		s.completed = append(s.completed, img)
		if len(s.completed) > s.cfg.ImageCapacity {
			s.completed = s.completed[len(s.completed)-s.cfg.ImageCapacity:]
		}
		s.emit(func(o Observer) { o.OnImage(id, img) })
		return
	}
	if p, ok := s.images.Progress(imageID); ok {
		s.emit(func(o Observer) { o.OnImageProgress(id, p) })
	}
}

func (s *Session) handleText(m Message) {
	id := s.flightID
	s.messages = append(s.messages, m)
	if len(s.messages) > s.cfg.MessageCapacity {
		s.messages = s.messages[len(s.messages)-s.cfg.MessageCapacity:]
	}
	s.emit(func(o Observer) { o.OnText(id, m) })
}

// Reset starts a new flight. All per-flight state is cleared under one lock
// acquisition and any wind fetch still in flight is orphaned. Events already
// queued for the old flight are still delivered, ahead of OnReset. It
// returns the new flight id.
func (s *Session) Reset() string {
	s.mu.Lock()
	old := s.flightID
	s.frames.Reset()
	s.lines.Reset()
	s.images.Reset()
	s.phase.Reset()
	s.burst.Reset()
	s.predictor.Reset()
	s.history.Reset()
	s.messages = nil
	s.completed = nil
	s.log.Reset()
	s.startFlight()
	if s.wind != nil {
		s.wind.Invalidate()
	}
	newID := s.flightID
	s.emit(func(o Observer) { o.OnReset(old, newID) })
	s.mu.Unlock()

	monitoring.Logf("session reset: flight %s -> %s", old, newID)
	s.flush()
	return newID
}

// Close stops background wind fetches and waits for them to finish.
func (s *Session) Close() {
	s.cancel()
	if s.wind != nil {
		s.wind.Wait()
	}
}

// FlightID returns the id of the current flight.
func (s *Session) FlightID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flightID
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Frames = s.frames.Stats()
	st.Images = s.images.Stats()
	if st.LastModemStatus != nil {
		cp := *st.LastModemStatus
		st.LastModemStatus = &cp
	}
	return st
}

// History returns the retained telemetry, oldest first.
func (s *Session) History() []telemetry.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Samples()
}

// Latest returns the most recent telemetry sample.
func (s *Session) Latest() (telemetry.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Latest()
}

// Phase returns the current flight phase estimate.
func (s *Session) Phase() flight.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.Last()
}

// LatestPrediction returns the most recent landing prediction, path
// included.
func (s *Session) LatestPrediction() (predict.Prediction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.Latest()
}

// Predictions returns the retained prediction history without paths.
func (s *Session) Predictions() []predict.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.History()
}

// Drift returns the wind estimated from the ascent ground track.
func (s *Session) Drift() (predict.DriftEstimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.Drift()
}

// Burst returns the latched burst event, if any.
func (s *Session) Burst() (flight.BurstEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burst.Event()
}

// MaxAltitude returns the highest altitude seen this flight.
func (s *Session) MaxAltitude() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burst.MaxAltitude()
}

// Images returns the retained completed images, oldest first. The image
// bytes are shared and must not be modified.
func (s *Session) Images() []*imaging.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*imaging.Image, len(s.completed))
	copy(out, s.completed)
	return out
}

// Image returns a retained completed image by id.
func (s *Session) Image(id uint16) (*imaging.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.completed) - 1; i >= 0; i-- {
		if s.completed[i].ID == id {
			return s.completed[i], true
		}
	}
	return nil, false
}

// PendingImages returns the progress of every image still being received.
func (s *Session) PendingImages() []imaging.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images.Pending()
}

// Messages returns the retained text messages, oldest first.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// WindProfile returns the cached wind profile, which may be stale or nil.
func (s *Session) WindProfile() *wind.Profile {
	if s.wind == nil {
		return nil
	}
	return s.wind.Profile()
}

// SetWindProfile replaces the cached profile, for example with one loaded
// from a file. It is a no-op without a wind cache.
func (s *Session) SetWindProfile(p *wind.Profile) {
	if s.wind != nil {
		s.wind.Set(p)
	}
}

// HasWindCache reports whether the session was given a wind cache.
func (s *Session) HasWindCache() bool { return s.wind != nil }

// LastPacket returns the receive time of the last valid packet.
func (s *Session) LastPacket() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.LastPacket
}

// Active reports whether a valid packet arrived within timeout.
func (s *Session) Active(timeout time.Duration) bool {
	last := s.LastPacket()
	return !last.IsZero() && s.clock.Since(last) < timeout
}

// Config returns the session settings.
func (s *Session) Config() Config { return s.cfg }

package session

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

// EventType names a Hub event.
type EventType string

const (
	EventTelemetry     EventType = "telemetry"
	EventImage         EventType = "image"
	EventImageProgress EventType = "image_progress"
	EventText          EventType = "text"
	EventBurst         EventType = "burst"
	EventPrediction    EventType = "prediction"
	EventModemStatus   EventType = "modem"
	EventReset         EventType = "reset"
)

// Event is a session notification as delivered to Hub subscribers.
type Event struct {
	Type     EventType `json:"type"`
	FlightID string    `json:"flight_id"`
	Time     time.Time `json:"time"`
	Data     any       `json:"data"`
}

// Hub fans session events out to channel subscribers. A subscriber whose
// buffer is full misses events rather than stalling ingestion.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	buffer      int
	now         func() time.Time
}

// NewHub returns a hub whose subscriber channels buffer n events.
func NewHub(n int) *Hub {
	if n <= 0 {
		n = 64
	}
	return &Hub{subscribers: make(map[string]chan Event), buffer: n, now: time.Now}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a new subscription id and its channel.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) publish(t EventType, flightID string, data any) {
	ev := Event{Type: t, FlightID: flightID, Time: h.now(), Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) OnTelemetry(id string, s telemetry.Sample) { h.publish(EventTelemetry, id, s) }
func (h *Hub) OnImage(id string, img *imaging.Image)     { h.publish(EventImage, id, img) }
func (h *Hub) OnImageProgress(id string, p imaging.Progress) {
	h.publish(EventImageProgress, id, p)
}
func (h *Hub) OnText(id string, m Message)                { h.publish(EventText, id, m) }
func (h *Hub) OnBurst(id string, ev flight.BurstEvent)    { h.publish(EventBurst, id, ev) }
func (h *Hub) OnPrediction(id string, p *predict.Prediction) {
	// Paths are large; subscribers fetch them from the API when needed.
	cp := *p
	cp.Path = nil
	h.publish(EventPrediction, id, cp)
}
func (h *Hub) OnModemStatus(id string, st protocol.ModemStatus) { h.publish(EventModemStatus, id, st) }
func (h *Hub) OnReset(oldID, newID string) {
	h.publish(EventReset, newID, map[string]string{"previous_flight_id": oldID})
}

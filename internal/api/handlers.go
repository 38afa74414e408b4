package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/telemetry"
	"github.com/banshee-data/raptorhab/internal/version"
	"github.com/banshee-data/raptorhab/internal/wind"
)

const maxTelemetryLimit = 100000

// archivedFlight returns the flight id named by ?flight= when it refers to
// a recorded flight other than the live one.
func (s *Server) archivedFlight(r *http.Request) (string, bool) {
	id := r.URL.Query().Get("flight")
	if id == "" || id == s.session.FlightID() || s.db == nil {
		return "", false
	}
	return id, true
}

func (s *Server) listTelemetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	limit, ok := intParam(r, "limit", 0, maxTelemetryLimit)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}

	var samples []telemetry.Sample
	if id, ok := s.archivedFlight(r); ok {
		var err error
		if samples, err = s.db.Telemetry(id, limit); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve telemetry: %v", err))
			return
		}
	} else {
		samples = s.session.History()
		if limit > 0 && len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
	}
	if samples == nil {
		samples = []telemetry.Sample{}
	}
	s.writeJSON(w, samples)
}

type latestResponse struct {
	FlightID string           `json:"flight_id"`
	Sample   telemetry.Sample `json:"sample"`
	Phase    flight.Estimate  `json:"phase"`
	Active   bool             `json:"active"`
	Age      float64          `json:"age"` // seconds since the sample was received
}

func (s *Server) showLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	sample, ok := s.session.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No telemetry received")
		return
	}
	s.writeJSON(w, latestResponse{
		FlightID: s.session.FlightID(),
		Sample:   sample,
		Phase:    s.session.Phase(),
		Active:   s.session.Active(s.inactivity),
		Age:      s.clock.Since(sample.Timestamp).Seconds(),
	})
}

func (s *Server) showPrediction(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if id, ok := s.archivedFlight(r); ok {
		preds, err := s.db.Predictions(id)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve predictions: %v", err))
			return
		}
		if preds == nil {
			preds = []db.StoredPrediction{}
		}
		s.writeJSON(w, preds)
		return
	}

	if r.URL.Query().Get("history") != "" {
		preds := s.session.Predictions()
		// Paths are only kept on the latest prediction.
		for i := range preds {
			preds[i].Path = nil
		}
		if preds == nil {
			preds = []predict.Prediction{}
		}
		s.writeJSON(w, preds)
		return
	}

	p, ok := s.session.LatestPrediction()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No prediction available")
		return
	}
	s.writeJSON(w, p)
}

type burstResponse struct {
	Detected    bool               `json:"detected"`
	MaxAltitude float64            `json:"max_altitude"`
	Event       *flight.BurstEvent `json:"event,omitempty"`
}

func (s *Server) showBurst(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if id, ok := s.archivedFlight(r); ok {
		ev, err := s.db.Burst(id)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSON(w, burstResponse{})
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve burst: %v", err))
			return
		}
		s.writeJSON(w, burstResponse{Detected: true, MaxAltitude: ev.MaxAltitude, Event: &ev})
		return
	}

	resp := burstResponse{MaxAltitude: s.session.MaxAltitude()}
	if ev, ok := s.session.Burst(); ok {
		resp.Detected = true
		resp.Event = &ev
	}
	s.writeJSON(w, resp)
}

type imageInfo struct {
	ID            uint16    `json:"id"`
	Size          uint32    `json:"size"`
	Width         uint16    `json:"width"`
	Height        uint16    `json:"height"`
	FirstReceived time.Time `json:"first_received"`
	Completed     time.Time `json:"completed"`
	URL           string    `json:"url"`
}

type imagesResponse struct {
	Completed []imageInfo        `json:"completed"`
	Pending   []imaging.Progress `json:"pending"`
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	resp := imagesResponse{Completed: []imageInfo{}, Pending: []imaging.Progress{}}

	if id, ok := s.archivedFlight(r); ok {
		records, err := s.db.Images(id)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve images: %v", err))
			return
		}
		for _, rec := range records {
			resp.Completed = append(resp.Completed, imageInfo{
				ID: rec.Meta.ImageID, Size: rec.Meta.TotalSize, Width: rec.Meta.Width, Height: rec.Meta.Height,
				FirstReceived: rec.FirstReceived, Completed: rec.Completed,
				URL: fmt.Sprintf("/api/images/%d?flight=%s", rec.Meta.ImageID, id),
			})
		}
		s.writeJSON(w, resp)
		return
	}

	for _, img := range s.session.Images() {
		resp.Completed = append(resp.Completed, imageInfo{
			ID: img.ID, Size: img.Meta.TotalSize, Width: img.Meta.Width, Height: img.Meta.Height,
			FirstReceived: img.FirstReceived, Completed: img.Completed,
			URL: fmt.Sprintf("/api/images/%d", img.ID),
		})
	}
	resp.Pending = append(resp.Pending, s.session.PendingImages()...)
	s.writeJSON(w, resp)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 16)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid image id")
		return
	}
	imageID := uint16(n)

	var data []byte
	if flightID, ok := s.archivedFlight(r); ok {
		data, err = s.db.ImageData(flightID, imageID)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "Image not found")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve image: %v", err))
			return
		}
	} else {
		img, ok := s.session.Image(imageID)
		if !ok {
			s.writeJSONError(w, http.StatusNotFound, "Image not found")
			return
		}
		data = img.Data
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if id, ok := s.archivedFlight(r); ok {
		msgs, err := s.db.Messages(id)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve messages: %v", err))
			return
		}
		s.writeJSON(w, msgs)
		return
	}
	s.writeJSON(w, s.session.Messages())
}

type statsResponse struct {
	session.Stats
	Active bool `json:"active"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, statsResponse{Stats: s.session.Stats(), Active: s.session.Active(s.inactivity)})
}

type windResponse struct {
	Profile *wind.Profile          `json:"profile"`
	Valid   bool                   `json:"valid"`
	Drift   *predict.DriftEstimate `json:"drift,omitempty"`
}

// handleWind reports the wind used for predictions. POST replaces the
// cached profile with a list of layers.
func (s *Server) handleWind(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p := s.session.WindProfile()
		resp := windResponse{Profile: p, Valid: p.IsValid(s.clock.Now())}
		if d, ok := s.session.Drift(); ok {
			resp.Drift = &d
		}
		s.writeJSON(w, resp)

	case http.MethodPost:
		if !s.session.HasWindCache() {
			s.writeJSONError(w, http.StatusConflict, "Wind profiles are disabled")
			return
		}
		var body struct {
			Layers []wind.Layer `json:"layers"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid wind profile")
			return
		}
		if len(body.Layers) == 0 {
			s.writeJSONError(w, http.StatusBadRequest, "At least one layer is required")
			return
		}
		p := wind.NewProfile(body.Layers, s.clock.Now())
		p.Source = "manual"
		s.session.SetWindProfile(p)
		s.writeJSON(w, windResponse{Profile: p, Valid: true})

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	previous := s.session.FlightID()
	id := s.session.Reset()
	s.writeJSON(w, map[string]string{"flight_id": id, "previous_flight_id": previous})
}

func (s *Server) listFlights(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "Flight recording is disabled")
		return
	}
	flights, err := s.db.Flights()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve flights: %v", err))
		return
	}
	if flights == nil {
		flights = []db.Flight{}
	}
	s.writeJSON(w, flights)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

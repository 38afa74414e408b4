package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

// Flight summarises one recorded flight.
type Flight struct {
	ID         string    `json:"flight_id"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended,omitempty"`
	PreviousID string    `json:"previous_id,omitempty"`
	Telemetry  int       `json:"telemetry"`
	Images     int       `json:"images"`
}

// ImageRecord is a stored image without its bytes.
type ImageRecord struct {
	FlightID      string             `json:"flight_id"`
	Meta          protocol.ImageMeta `json:"meta"`
	FirstReceived time.Time          `json:"first_received"`
	Completed     time.Time          `json:"completed"`
}

// StoredPrediction is a landing prediction as recorded.
type StoredPrediction struct {
	ID                string             `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	Latitude          float64            `json:"latitude"`
	Longitude         float64            `json:"longitude"`
	LandingTime       time.Time          `json:"landing_time"`
	TimeToLanding     float64            `json:"time_to_landing"`
	DistanceToLanding float64            `json:"distance_to_landing"`
	BearingToLanding  float64            `json:"bearing_to_landing"`
	Confidence        predict.Confidence `json:"confidence"`
	DescentRate       float64            `json:"descent_rate"`
	Phase             flight.Phase       `json:"phase"`
	WindSource        predict.WindSource `json:"wind_source"`
}

// StartFlight records a flight. Starting an already recorded flight is a
// no-op.
func (db *DB) StartFlight(id string, started time.Time, previousID string) error {
	var prev any
	if previousID != "" {
		prev = previousID
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO flights (flight_id, started_unix, previous_id) VALUES (?, ?, ?)`,
		id, unixSeconds(started), prev,
	)
	if err != nil {
		return fmt.Errorf("failed to start flight %s: %w", id, err)
	}
	return nil
}

// EndFlight stamps the end time of a flight.
func (db *DB) EndFlight(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE flights SET ended_unix = ? WHERE flight_id = ?`, unixSeconds(ended), id)
	if err != nil {
		return fmt.Errorf("failed to end flight %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("flight %s: %w", id, ErrNotFound)
	}
	return nil
}

// Flights lists recorded flights, newest first.
func (db *DB) Flights() ([]Flight, error) {
	rows, err := db.Query(`
		SELECT f.flight_id, f.started_unix, COALESCE(f.ended_unix, 0), COALESCE(f.previous_id, ''),
			(SELECT COUNT(*) FROM telemetry t WHERE t.flight_id = f.flight_id),
			(SELECT COUNT(*) FROM images i WHERE i.flight_id = f.flight_id)
		FROM flights f
		ORDER BY f.started_unix DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flights []Flight
	for rows.Next() {
		var f Flight
		var started, ended float64
		if err := rows.Scan(&f.ID, &started, &ended, &f.PreviousID, &f.Telemetry, &f.Images); err != nil {
			return nil, err
		}
		f.Started, f.Ended = fromUnix(started), fromUnix(ended)
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// InsertTelemetry records one sample.
func (db *DB) InsertTelemetry(flightID string, s telemetry.Sample) error {
	_, err := db.Exec(
		`INSERT INTO telemetry (
			flight_id, received_unix, sequence, rssi, snr, latitude, longitude, altitude,
			speed, heading, satellites, fix_type, gps_time, battery_mv, cpu_temp,
			radio_temp, image_id, image_progress, payload_rssi, vertical_speed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flightID, unixSeconds(s.Timestamp), s.Sequence, s.RSSI, s.SNR, s.Latitude, s.Longitude, s.Altitude,
		s.Speed, s.Heading, s.Satellites, s.FixType, s.GPSTime, s.BatteryMV, s.CPUTemp,
		s.RadioTemp, s.ImageID, s.ImageProgress, s.PayloadRSSI, s.VerticalSpeed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// Telemetry returns the last limit samples of a flight in receive order.
// A limit of zero or less returns the whole flight.
func (db *DB) Telemetry(flightID string, limit int) ([]telemetry.Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT received_unix, sequence, rssi, snr, latitude, longitude, altitude,
				speed, heading, satellites, fix_type, gps_time, battery_mv, cpu_temp,
				radio_temp, image_id, image_progress, payload_rssi, vertical_speed, rowid
			FROM telemetry WHERE flight_id = ?
			ORDER BY received_unix DESC, rowid DESC LIMIT ?
		) ORDER BY received_unix ASC, rowid ASC`, flightID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Sample
	for rows.Next() {
		var (
			s        telemetry.Sample
			received float64
			fixType  uint8
			rowid    int64
		)
		if err := rows.Scan(&received, &s.Sequence, &s.RSSI, &s.SNR, &s.Latitude, &s.Longitude, &s.Altitude,
			&s.Speed, &s.Heading, &s.Satellites, &fixType, &s.GPSTime, &s.BatteryMV, &s.CPUTemp,
			&s.RadioTemp, &s.ImageID, &s.ImageProgress, &s.PayloadRSSI, &s.VerticalSpeed, &rowid); err != nil {
			return nil, err
		}
		s.Timestamp = fromUnix(received)
		s.FixType = protocol.FixType(fixType)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertMessage records a text message.
func (db *DB) InsertMessage(flightID string, m session.Message) error {
	_, err := db.Exec(
		`INSERT INTO messages (flight_id, received_unix, sequence, body) VALUES (?, ?, ?, ?)`,
		flightID, unixSeconds(m.Time), m.Sequence, m.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Messages returns a flight's text messages, oldest first.
func (db *DB) Messages(flightID string) ([]session.Message, error) {
	rows, err := db.Query(
		`SELECT received_unix, sequence, body FROM messages WHERE flight_id = ? ORDER BY received_unix, rowid`,
		flightID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var m session.Message
		var received float64
		if err := rows.Scan(&received, &m.Sequence, &m.Text); err != nil {
			return nil, err
		}
		m.Time = fromUnix(received)
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertImage stores a completed image. Storing the same image twice keeps
// the first copy.
func (db *DB) InsertImage(flightID string, img *imaging.Image) error {
	m := img.Meta
	_, err := db.Exec(
		`INSERT OR IGNORE INTO images (
			flight_id, image_id, total_size, width, height, num_symbols, symbol_size,
			crc32, first_received_unix, completed_unix, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flightID, img.ID, m.TotalSize, m.Width, m.Height, m.NumSourceSymbols, m.SymbolSize,
		m.CRC32, unixSeconds(img.FirstReceived), unixSeconds(img.Completed), img.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image %d: %w", img.ID, err)
	}
	return nil
}

// Images lists a flight's stored images in completion order.
func (db *DB) Images(flightID string) ([]ImageRecord, error) {
	rows, err := db.Query(`
		SELECT image_id, total_size, width, height, num_symbols, symbol_size, crc32,
			COALESCE(first_received_unix, 0), completed_unix
		FROM images WHERE flight_id = ? ORDER BY completed_unix, image_id`, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageRecord
	for rows.Next() {
		r := ImageRecord{FlightID: flightID}
		var first, completed float64
		if err := rows.Scan(&r.Meta.ImageID, &r.Meta.TotalSize, &r.Meta.Width, &r.Meta.Height,
			&r.Meta.NumSourceSymbols, &r.Meta.SymbolSize, &r.Meta.CRC32, &first, &completed); err != nil {
			return nil, err
		}
		r.FirstReceived, r.Completed = fromUnix(first), fromUnix(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImageData returns the bytes of one stored image.
func (db *DB) ImageData(flightID string, imageID uint16) ([]byte, error) {
	var data []byte
	err := db.QueryRow(`SELECT data FROM images WHERE flight_id = ? AND image_id = ?`, flightID, imageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d of flight %s: %w", imageID, flightID, ErrNotFound)
	}
	return data, err
}

// RecordBurst stores the burst of a flight, replacing any earlier record.
func (db *DB) RecordBurst(flightID string, ev flight.BurstEvent) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO bursts (flight_id, burst_unix, latitude, longitude, altitude, max_altitude)
		VALUES (?, ?, ?, ?, ?, ?)`,
		flightID, unixSeconds(ev.Time), ev.Latitude, ev.Longitude, ev.Altitude, ev.MaxAltitude,
	)
	if err != nil {
		return fmt.Errorf("failed to record burst: %w", err)
	}
	return nil
}

// Burst returns the recorded burst of a flight.
func (db *DB) Burst(flightID string) (flight.BurstEvent, error) {
	var ev flight.BurstEvent
	var at float64
	err := db.QueryRow(
		`SELECT burst_unix, latitude, longitude, altitude, max_altitude FROM bursts WHERE flight_id = ?`,
		flightID,
	).Scan(&at, &ev.Latitude, &ev.Longitude, &ev.Altitude, &ev.MaxAltitude)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, fmt.Errorf("burst of flight %s: %w", flightID, ErrNotFound)
	}
	ev.Time = fromUnix(at)
	return ev, err
}

// InsertPrediction records a landing prediction and returns its id.
func (db *DB) InsertPrediction(flightID string, p *predict.Prediction) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO predictions (
			prediction_id, flight_id, predicted_unix, latitude, longitude, landing_unix,
			time_to_landing, distance, bearing, confidence, descent_rate, phase, wind_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, flightID, unixSeconds(p.Timestamp), p.Latitude, p.Longitude, unixSeconds(p.LandingTime),
		p.TimeToLanding, p.DistanceToLanding, p.BearingToLanding, string(p.Confidence),
		p.DescentRate, p.Phase.String(), string(p.WindSource),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert prediction: %w", err)
	}
	return id, nil
}

// Predictions returns a flight's predictions, oldest first.
func (db *DB) Predictions(flightID string) ([]StoredPrediction, error) {
	rows, err := db.Query(`
		SELECT prediction_id, predicted_unix, latitude, longitude, landing_unix, time_to_landing,
			distance, bearing, confidence, COALESCE(descent_rate, 0), phase, wind_source
		FROM predictions WHERE flight_id = ? ORDER BY predicted_unix, rowid`, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredPrediction
	for rows.Next() {
		var (
			p                 StoredPrediction
			at, landing       float64
			confidence, phase string
			windSource        string
		)
		if err := rows.Scan(&p.ID, &at, &p.Latitude, &p.Longitude, &landing, &p.TimeToLanding,
			&p.DistanceToLanding, &p.BearingToLanding, &confidence, &p.DescentRate, &phase, &windSource); err != nil {
			return nil, err
		}
		if err := p.Phase.UnmarshalText([]byte(phase)); err != nil {
			return nil, err
		}
		p.Timestamp, p.LandingTime = fromUnix(at), fromUnix(landing)
		p.Confidence, p.WindSource = predict.Confidence(confidence), predict.WindSource(windSource)
		out = append(out, p)
	}
	return out, rows.Err()
}

package wind

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/raptorhab/internal/httputil"
)

// Source fetches a wind profile for a location.
type Source interface {
	Fetch(ctx context.Context, lat, lon float64) (*Profile, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, lat, lon float64) (*Profile, error)

func (f SourceFunc) Fetch(ctx context.Context, lat, lon float64) (*Profile, error) {
	return f(ctx, lat, lon)
}

// DefaultOpenMeteoURL is the public forecast endpoint.
const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// PressureLevels are the isobaric levels requested from the forecast, from
// the surface up to roughly 24 km.
var PressureLevels = []int{1000, 925, 850, 700, 500, 400, 300, 250, 200, 150, 100, 70, 50, 30}

// OpenMeteoSource reads pressure-level winds from the Open-Meteo forecast
// API. Each level's geopotential height becomes the layer altitude.
type OpenMeteoSource struct {
	Client  httputil.HTTPClient
	BaseURL string
	Now     func() time.Time
}

// NewOpenMeteoSource returns a source using client against baseURL (or the
// public endpoint when empty).
func NewOpenMeteoSource(client httputil.HTTPClient, baseURL string) *OpenMeteoSource {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoSource{Client: client, BaseURL: baseURL, Now: time.Now}
}

type openMeteoResponse struct {
	Hourly map[string]any `json:"hourly"`
}

func (s *OpenMeteoSource) requestURL(lat, lon float64) string {
	var fields []string
	for _, lvl := range PressureLevels {
		fields = append(fields,
			fmt.Sprintf("wind_speed_%dhPa", lvl),
			fmt.Sprintf("wind_direction_%dhPa", lvl),
			fmt.Sprintf("geopotential_height_%dhPa", lvl))
	}
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("hourly", strings.Join(fields, ","))
	q.Set("wind_speed_unit", "ms")
	q.Set("forecast_days", "1")
	q.Set("timezone", "UTC")
	return s.BaseURL + "?" + q.Encode()
}

// Fetch implements Source.
func (s *OpenMeteoSource) Fetch(ctx context.Context, lat, lon float64) (*Profile, error) {
	var resp openMeteoResponse
	if err := httputil.GetJSON(ctx, s.Client, s.requestURL(lat, lon), &resp); err != nil {
		return nil, fmt.Errorf("fetch wind forecast: %w", err)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	idx, err := nearestHour(resp.Hourly["time"], now)
	if err != nil {
		return nil, err
	}

	var layers []Layer
	for _, lvl := range PressureLevels {
		speed, ok1 := valueAt(resp.Hourly[fmt.Sprintf("wind_speed_%dhPa", lvl)], idx)
		dir, ok2 := valueAt(resp.Hourly[fmt.Sprintf("wind_direction_%dhPa", lvl)], idx)
		height, ok3 := valueAt(resp.Hourly[fmt.Sprintf("geopotential_height_%dhPa", lvl)], idx)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		layers = append(layers, Layer{Altitude: height, Speed: speed, Direction: NormalizeDegrees(dir)})
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("wind forecast for %.4f,%.4f has no usable levels", lat, lon)
	}
	p := NewProfile(layers, now)
	p.Latitude, p.Longitude = lat, lon
	p.Source = "open-meteo"
	return p, nil
}

// nearestHour returns the index of the forecast hour closest to now.
func nearestHour(raw any, now time.Time) (int, error) {
	times, ok := raw.([]any)
	if !ok || len(times) == 0 {
		return 0, fmt.Errorf("wind forecast has no hourly times")
	}
	best, bestDiff := 0, math.Inf(1)
	for i, v := range times {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t, err := time.Parse("2006-01-02T15:04", s)
		if err != nil {
			continue
		}
		if d := math.Abs(now.Sub(t).Seconds()); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	if math.IsInf(bestDiff, 1) {
		return 0, fmt.Errorf("wind forecast times are unparseable")
	}
	return best, nil
}

func valueAt(raw any, idx int) (float64, bool) {
	vals, ok := raw.([]any)
	if !ok || idx >= len(vals) {
		return 0, false
	}
	f, ok := vals[idx].(float64)
	return f, ok
}

package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/telemetry"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// attachDebug registers quick HTML charts of the current flight and the
// session reset action under /debug/.
func (s *Server) attachDebug(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("charts/altitude", "Altitude and vertical speed of the current flight", s.handleAltitudeChart)
	debug.HandleFunc("charts/track", "Ground track of the current flight with the predicted landing", s.handleTrackChart)
	debug.HandleSilentFunc("session-reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		previous := s.session.FlightID()
		id := s.session.Reset()
		monitoring.Logf("session reset from debug page: %s -> %s", previous, id)
		fmt.Fprintf(w, "new flight %s (previous %s)\n", id, previous)
	})
}

func (s *Server) handleAltitudeChart(w http.ResponseWriter, r *http.Request) {
	samples := s.session.History()

	alt := make([]opts.LineData, 0, len(samples))
	vs := make([]opts.LineData, 0, len(samples))
	var start float64
	for i, smp := range samples {
		t := float64(smp.Timestamp.Unix())
		if i == 0 {
			start = t
		}
		minutes := math.Round((t-start)/6) / 10
		alt = append(alt, opts.LineData{Value: []interface{}{minutes, smp.Altitude}})
		vs = append(vs, opts.LineData{Value: []interface{}{minutes, math.Round(smp.VerticalSpeed*10) / 10}})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RaptorHab Altitude", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Altitude", Subtitle: fmt.Sprintf("flight=%s samples=%d max=%.0fm", s.session.FlightID(), len(samples), s.session.MaxAltitude())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Elapsed (min)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Altitude (m)"}),
	)
	line.ExtendYAxis(opts.YAxis{Type: "value", Name: "Vertical speed (m/s)"})
	line.AddSeries("altitude", alt, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("vertical speed", vs, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render altitude chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// trackBounds pads the extent of the track so the chart is not clipped.
func trackBounds(samples []telemetry.Sample, extra ...[2]float64) (minLon, maxLon, minLat, maxLat float64) {
	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	add := func(lat, lon float64) {
		minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
		minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
	}
	for _, smp := range samples {
		if smp.HasFix() {
			add(smp.Latitude, smp.Longitude)
		}
	}
	for _, p := range extra {
		add(p[0], p[1])
	}
	if math.IsInf(minLat, 1) {
		return -1, 1, -1, 1
	}
	pad := math.Max(math.Max(maxLat-minLat, maxLon-minLon)*0.05, 0.001)
	return minLon - pad, maxLon + pad, minLat - pad, maxLat + pad
}

func (s *Server) handleTrackChart(w http.ResponseWriter, r *http.Request) {
	samples := s.session.History()

	pts := make([]opts.ScatterData, 0, len(samples))
	maxAlt := 1.0
	for _, smp := range samples {
		if !smp.HasFix() {
			continue
		}
		pts = append(pts, opts.ScatterData{Value: []interface{}{smp.Longitude, smp.Latitude, smp.Altitude}})
		maxAlt = math.Max(maxAlt, smp.Altitude)
	}

	var extra [][2]float64
	var landing, path []opts.ScatterData
	if p, ok := s.session.LatestPrediction(); ok {
		extra = append(extra, [2]float64{p.Latitude, p.Longitude})
		landing = append(landing, opts.ScatterData{Value: []interface{}{p.Longitude, p.Latitude, 0}})
		for _, pp := range p.Path {
			path = append(path, opts.ScatterData{Value: []interface{}{pp.Longitude, pp.Latitude, pp.Altitude}})
			extra = append(extra, [2]float64{pp.Latitude, pp.Longitude})
		}
	}
	minLon, maxLon, minLat, maxLat := trackBounds(samples, extra...)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RaptorHab Track", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Ground Track", Subtitle: fmt.Sprintf("flight=%s fixes=%d", s.session.FlightID(), len(pts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon, Max: maxLon, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat, Max: maxLat, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxAlt),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("track", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	if len(path) > 0 {
		scatter.AddSeries("predicted path", path, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if len(landing) > 0 {
		scatter.AddSeries("landing", landing, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render track chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
